package dataset

import "fmt"

// Store: хранилище наборов одного прогона. Опубликованный набор не меняется
// и повторно не публикуется. Не потокобезопасно, владелец один прогон.
type Store struct {
	data  map[string]*Dataset
	order []string
}

func NewStore() *Store {
	return &Store{data: make(map[string]*Dataset)}
}

// Put публикует набор под именем сущности.
func (s *Store) Put(name string, d *Dataset) error {
	if _, exists := s.data[name]; exists {
		return fmt.Errorf("dataset %q already published", name)
	}
	s.data[name] = d
	s.order = append(s.order, name)
	return nil
}

func (s *Store) Get(name string) (*Dataset, bool) {
	d, ok := s.data[name]
	return d, ok
}

// Names возвращает имена в порядке публикации.
func (s *Store) Names() []string {
	return append([]string(nil), s.order...)
}

// Map возвращает копию индекса имя -> набор.
func (s *Store) Map() map[string]*Dataset {
	out := make(map[string]*Dataset, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}
