package api

import (
	"fmt"
	"mime/multipart"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"shapeshifter/internal/dataset"
	"shapeshifter/internal/materialize"
	"shapeshifter/internal/model"
)

// runReq: тело запросов run/preview/materialize. Корневой набор задаётся columns+rows
// (или CSV-файл в multipart-поле "file").
type runReq struct {
	Columns []string `json:"columns" form:"-"`
	Rows    [][]any  `json:"rows" form:"-"`
	Storage string   `json:"storage" form:"storage"`
	By      string   `json:"by" form:"by"`
}

func (r runReq) root() *dataset.Dataset {
	if len(r.Columns) == 0 {
		return nil
	}
	return dataset.New(r.Columns, r.Rows)
}

// bindRun читает тело: multipart с CSV или JSON. Пустое тело означает прогон без корневого набора.
func bindRun(c *gin.Context) (runReq, *dataset.Dataset, error) {
	var req runReq
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		if err := c.ShouldBind(&req); err != nil {
			return req, nil, fmt.Errorf("invalid form: %w", err)
		}
		file, hdr, err := c.Request.FormFile("file")
		if err != nil {
			return req, nil, fmt.Errorf("multipart file not found (field name 'file')")
		}
		defer file.Close()
		ds, err := materialize.ReadCSV(file)
		if err != nil {
			return req, nil, fmt.Errorf("%s: %w", safeName(hdr), err)
		}
		return req, ds, nil
	}
	if c.Request.ContentLength == 0 {
		return req, nil, nil
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		return req, nil, fmt.Errorf("invalid JSON: %w", err)
	}
	for i, r := range req.Rows {
		if len(r) != len(req.Columns) {
			return req, nil, fmt.Errorf("rows[%d] has %d values, expected %d", i, len(r), len(req.Columns))
		}
	}
	return req, req.root(), nil
}

func (r runReq) storage() (model.StorageFormat, error) {
	f := model.StorageFormat(strings.ToLower(strings.TrimSpace(r.Storage)))
	if f != "" && !f.Valid() {
		return "", fmt.Errorf("unknown storage %q (allowed: inline|csv|columnar)", r.Storage)
	}
	return f, nil
}

func safeName(h *multipart.FileHeader) string {
	name := strings.TrimSpace(filepath.Base(h.Filename))
	if name == "" || name == "." {
		return "file"
	}
	return name
}
