// Пакет intent — валидация и классификация входящих sync-намерений.
//
// Намерение — закрытый sum-тип из трёх вариантов:
//   - Upsert (POST/PUT) — создание или полная замена записи
//   - Patch (PATCH) — частичное обновление
//   - Delete (DELETE) — удаление
//
// Ограничения каждого варианта проверяются при конструировании (Validate),
// поэтому до хранилища доходят только корректные намерения.
package intent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/Mockaj/ai-service/internal/domain/model"
)

// Method — дискриминатор варианта.
type Method string

const (
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodPatch  Method = "PATCH"
	MethodDelete Method = "DELETE"
)

// Имена полей sync-записи.
const (
	FieldID          = "id"
	FieldMethod      = "method"
	FieldName        = "name"
	FieldDescription = "description"
	FieldStatus      = "status"
)

// ErrValidation — базовая ошибка валидации, все ValidationError совпадают с ней по errors.Is.
var ErrValidation = errors.New("ошибка валидации")

// ValidationError — описание нарушенного ограничения.
type ValidationError struct {
	// Index — позиция элемента в payload; -1, если не относится к массиву
	Index int
	// Field — поле, нарушившее ограничение (пусто для ограничений на весь объект)
	Field string
	// Message — человекочитаемое описание
	Message string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("Validation error: ")
	if e.Index >= 0 {
		fmt.Fprintf(&b, "payload[%d]: ", e.Index)
	}
	if e.Field != "" {
		b.WriteString(e.Field)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// AtIndex привязывает ошибку валидации к элементу payload.
// Ошибки другого типа возвращаются без изменений.
func AtIndex(err error, index int) error {
	var ve *ValidationError
	if errors.As(err, &ve) {
		cp := *ve
		cp.Index = index
		return &cp
	}
	return err
}

// Is позволяет сопоставлять ошибку с ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Index: -1, Field: field, Message: fmt.Sprintf(format, args...)}
}

// Intent — провалидированное sync-намерение.
// Реализуется только типами этого пакета.
type Intent interface {
	// RecordID возвращает внешний идентификатор записи.
	RecordID() string
	// Method возвращает дискриминатор варианта.
	Method() Method
	sealed()
}

// Upsert — создание (POST) или замена (PUT) записи.
type Upsert struct {
	method      Method
	id          string
	name        string
	description *string
	status      *model.Status
}

func (u Upsert) RecordID() string { return u.id }
func (u Upsert) Method() Method   { return u.method }
func (Upsert) sealed()            {}

// Name возвращает название записи (источник текста для embedding'а).
func (u Upsert) Name() string { return u.name }

// Record возвращает запись целиком.
func (u Upsert) Record() model.Record {
	return model.Record{
		ID:          u.id,
		Name:        u.name,
		Description: u.description,
		Status:      u.status,
	}
}

// Patch — частичное обновление: nil-поля не изменяются.
type Patch struct {
	id          string
	name        *string
	description *string
	status      *model.Status
}

func (p Patch) RecordID() string { return p.id }
func (Patch) Method() Method     { return MethodPatch }
func (Patch) sealed()            {}

// Fields возвращает только явно заданные поля.
func (p Patch) Fields() map[string]any {
	fields := make(map[string]any, 3)
	if p.name != nil {
		fields[FieldName] = *p.name
	}
	if p.description != nil {
		fields[FieldDescription] = *p.description
	}
	if p.status != nil {
		fields[FieldStatus] = string(*p.status)
	}
	return fields
}

// Delete — удаление записи.
type Delete struct {
	id string
}

func (d Delete) RecordID() string { return d.id }
func (Delete) Method() Method     { return MethodDelete }
func (Delete) sealed()            {}

// NewUpsert конструирует Upsert с проверкой ограничений (для внутренних вызовов и тестов).
func NewUpsert(method Method, record model.Record) (Upsert, error) {
	if method != MethodPost && method != MethodPut {
		return Upsert{}, invalid(FieldMethod, "ожидается POST или PUT, получено %q", method)
	}
	if err := checkID(record.ID); err != nil {
		return Upsert{}, err
	}
	if strings.TrimSpace(record.Name) == "" {
		return Upsert{}, invalid(FieldName, "поле обязательно и не может быть пустым")
	}
	return Upsert{
		method:      method,
		id:          record.ID,
		name:        record.Name,
		description: record.Description,
		status:      record.Status,
	}, nil
}

// Parse извлекает метод из объекта data и вызывает Validate.
func Parse(data map[string]json.RawMessage) (Intent, error) {
	raw, ok := data[FieldMethod]
	if !ok {
		return nil, invalid(FieldMethod, "поле обязательно")
	}
	method, present, err := decodeString(raw)
	if err != nil || !present {
		return nil, invalid(FieldMethod, "ожидается строка")
	}
	return Validate(method, data)
}

// Validate проверяет поля и классифицирует намерение по методу.
// fields может содержать ключ "method" — он игнорируется.
// Функция чистая: никаких обращений к хранилищу.
func Validate(method string, fields map[string]json.RawMessage) (Intent, error) {
	m := Method(method)
	switch m {
	case MethodPost, MethodPut, MethodPatch, MethodDelete:
	default:
		return nil, invalid(FieldMethod, "метод должен быть одним из POST, PUT, PATCH, DELETE, получено %q", method)
	}

	id, err := requiredID(fields)
	if err != nil {
		return nil, err
	}

	switch m {
	case MethodDelete:
		for key := range fields {
			if key != FieldID && key != FieldMethod {
				return nil, invalid(key, "для DELETE допускаются только 'id' и 'method'")
			}
		}
		return Delete{id: id}, nil

	case MethodPatch:
		name, err := optionalString(fields, FieldName)
		if err != nil {
			return nil, err
		}
		if name != nil && strings.TrimSpace(*name) == "" {
			return nil, invalid(FieldName, "не может быть пустым")
		}
		description, err := optionalString(fields, FieldDescription)
		if err != nil {
			return nil, err
		}
		status, err := optionalStatus(fields)
		if err != nil {
			return nil, err
		}
		if name == nil && description == nil && status == nil {
			return nil, invalid("", "для PATCH требуется хотя бы одно поле кроме 'id' и 'method'")
		}
		return Patch{id: id, name: name, description: description, status: status}, nil

	default:
		name, err := optionalString(fields, FieldName)
		if err != nil {
			return nil, err
		}
		if name == nil {
			return nil, invalid(FieldName, "поле обязательно для %s", m)
		}
		description, err := optionalString(fields, FieldDescription)
		if err != nil {
			return nil, err
		}
		status, err := optionalStatus(fields)
		if err != nil {
			return nil, err
		}
		return NewUpsert(m, model.Record{ID: id, Name: *name, Description: description, Status: status})
	}
}

// requiredID извлекает и проверяет поле id.
func requiredID(fields map[string]json.RawMessage) (string, error) {
	raw, ok := fields[FieldID]
	if !ok {
		return "", invalid(FieldID, "поле обязательно")
	}
	id, present, err := decodeString(raw)
	if err != nil || !present {
		return "", invalid(FieldID, "ожидается строка")
	}
	if err := checkID(id); err != nil {
		return "", err
	}
	return id, nil
}

// checkID — id непустой и без пробельных символов.
func checkID(id string) error {
	if id == "" {
		return invalid(FieldID, "не может быть пустым")
	}
	if strings.IndexFunc(id, unicode.IsSpace) >= 0 {
		return invalid(FieldID, "не может содержать пробельные символы")
	}
	return nil
}

// optionalString возвращает nil, если поле отсутствует или равно null.
func optionalString(fields map[string]json.RawMessage, key string) (*string, error) {
	raw, ok := fields[key]
	if !ok {
		return nil, nil
	}
	s, present, err := decodeString(raw)
	if err != nil {
		return nil, invalid(key, "ожидается строка")
	}
	if !present {
		return nil, nil
	}
	return &s, nil
}

func optionalStatus(fields map[string]json.RawMessage) (*model.Status, error) {
	s, err := optionalString(fields, FieldStatus)
	if err != nil || s == nil {
		return nil, err
	}
	status, err := model.ParseStatus(*s)
	if err != nil {
		return nil, invalid(FieldStatus, "%s", err.Error())
	}
	return &status, nil
}

// decodeString декодирует JSON-строку. present=false для null.
func decodeString(raw json.RawMessage) (value string, present bool, err error) {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return "", false, nil
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", false, err
	}
	return value, true, nil
}
