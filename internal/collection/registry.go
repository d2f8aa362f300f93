// Пакет collection — реестр логических коллекций.
// Логическое имя (skills) ↔ alias физического индекса (embeddings_skills).
// Реестр неизменяем после создания.
package collection

import (
	"fmt"
	"regexp"
	"strings"
)

// namePattern — допустимые логические имена (ограничения имён индексов хранилища).
var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Collection — логическая коллекция.
type Collection struct {
	// Name — логическое имя без префикса
	Name string
	// Alias — имя alias'а в хранилище (префикс + Name)
	Alias string
	// Test — зарезервированная тестовая коллекция, не участвует в production-трафике
	Test bool
}

// Registry — фиксированный набор коллекций.
type Registry struct {
	prefix     string
	all        []Collection
	production []Collection
	byName     map[string]Collection
}

// NewRegistry создаёт реестр.
// production — коллекции для production-трафика (в заданном порядке),
// test — зарезервированная тестовая коллекция (может быть пустой).
func NewRegistry(prefix string, production []string, test string) (*Registry, error) {
	if len(production) == 0 {
		return nil, fmt.Errorf("реестр коллекций пуст")
	}

	r := &Registry{
		prefix: prefix,
		byName: make(map[string]Collection, len(production)+1),
	}

	add := func(name string, isTest bool) error {
		if !namePattern.MatchString(name) {
			return fmt.Errorf("недопустимое имя коллекции %q", name)
		}
		if _, dup := r.byName[name]; dup {
			return fmt.Errorf("коллекция %q указана повторно", name)
		}
		c := Collection{Name: name, Alias: prefix + name, Test: isTest}
		r.byName[name] = c
		r.all = append(r.all, c)
		if !isTest {
			r.production = append(r.production, c)
		}
		return nil
	}

	for _, name := range production {
		if err := add(strings.TrimSpace(name), false); err != nil {
			return nil, err
		}
	}
	if test != "" {
		if err := add(test, true); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Prefix возвращает физический префикс.
func (r *Registry) Prefix() string { return r.prefix }

// All возвращает все коллекции, включая тестовую.
func (r *Registry) All() []Collection {
	out := make([]Collection, len(r.all))
	copy(out, r.all)
	return out
}

// Production возвращает коллекции для production-трафика.
func (r *Registry) Production() []Collection {
	out := make([]Collection, len(r.production))
	copy(out, r.production)
	return out
}

// Lookup ищет коллекцию по логическому имени среди всех коллекций.
func (r *Registry) Lookup(name string) (Collection, bool) {
	c, ok := r.byName[name]
	return c, ok
}

// LookupProduction ищет коллекцию только среди production-коллекций.
func (r *Registry) LookupProduction(name string) (Collection, bool) {
	c, ok := r.byName[name]
	if !ok || c.Test {
		return Collection{}, false
	}
	return c, true
}

// Logical возвращает логическое имя по alias'у.
func (r *Registry) Logical(alias string) (string, bool) {
	name, ok := strings.CutPrefix(alias, r.prefix)
	if !ok {
		return "", false
	}
	if _, known := r.byName[name]; !known {
		return "", false
	}
	return name, true
}
