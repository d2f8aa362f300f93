// Пакет generation — поколения физических индексов коллекции и фазы их пересборки.
//
// Жизненный цикл поколения:
//   - <alias>_temp_<uuid> — строящееся поколение, недоступно через alias
//   - после переключения alias'а — живое поколение
//   - при следующей пересборке копируется в <alias>_backup, исходник удаляется
//   - при следующей пересборке backup удаляется
//
// Фазы одного запуска:
//
//	pending → fetched → created → populated → cut_over → backed_up → cleaned
//
// failed достижима из любой фазы до cut_over. После переключения alias'а
// ошибки не фатальны: cut_over может перейти сразу в cleaned.
//
// Потокобезопасен через sync.RWMutex.
package generation

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Суффиксы физических индексов.
const (
	tempInfix    = "_temp_"
	backupSuffix = "_backup"
)

// TempPrefix возвращает префикс временных индексов alias'а.
func TempPrefix(alias string) string {
	return alias + tempInfix
}

// NewTempName выделяет глобально уникальное имя нового поколения.
func NewTempName(alias string) string {
	return TempPrefix(alias) + uuid.NewString()
}

// BackupName возвращает имя резервного индекса alias'а.
func BackupName(alias string) string {
	return alias + backupSuffix
}

// IsTemp проверяет, является ли индекс временным поколением alias'а.
func IsTemp(alias, index string) bool {
	return strings.HasPrefix(index, TempPrefix(alias)) && len(index) > len(TempPrefix(alias))
}

// Phase — фаза пересборки.
type Phase string

const (
	// PhasePending — запуск создан, ничего не сделано
	PhasePending Phase = "pending"
	// PhaseFetched — записи получены из источника
	PhaseFetched Phase = "fetched"
	// PhaseCreated — временный индекс создан
	PhaseCreated Phase = "created"
	// PhasePopulated — временный индекс заполнен
	PhasePopulated Phase = "populated"
	// PhaseCutOver — alias указывает на новое поколение
	PhaseCutOver Phase = "cut_over"
	// PhaseBackedUp — предыдущее поколение скопировано в backup и удалено
	PhaseBackedUp Phase = "backed_up"
	// PhaseCleaned — брошенные временные индексы удалены
	PhaseCleaned Phase = "cleaned"
	// PhaseFailed — запуск прерван до переключения alias'а
	PhaseFailed Phase = "failed"
)

// validTransitions — матрица допустимых переходов.
var validTransitions = map[Phase]map[Phase]bool{
	PhasePending:   {PhaseFetched: true, PhaseFailed: true},
	PhaseFetched:   {PhaseCreated: true, PhaseFailed: true},
	PhaseCreated:   {PhasePopulated: true, PhaseFailed: true},
	PhasePopulated: {PhaseCutOver: true, PhaseFailed: true},
	PhaseCutOver:   {PhaseBackedUp: true, PhaseCleaned: true},
	PhaseBackedUp:  {PhaseCleaned: true},
	PhaseCleaned:   {}, // Конечная фаза
	PhaseFailed:    {}, // Конечная фаза
}

// TransitionRecord — запись о переходе между фазами.
type TransitionRecord struct {
	From      Phase     `json:"from"`
	To        Phase     `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

// TransitionError — попытка недопустимого перехода.
type TransitionError struct {
	From Phase
	To   Phase
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("переход %s → %s недопустим", e.From, e.To)
}

// Tracker — фазы одного запуска пересборки.
type Tracker struct {
	mu      sync.RWMutex
	current Phase
	history []TransitionRecord
}

// NewTracker создаёт трекер в фазе pending.
func NewTracker() *Tracker {
	return &Tracker{
		current: PhasePending,
		history: make([]TransitionRecord, 0, len(validTransitions)),
	}
}

// Current возвращает текущую фазу.
func (t *Tracker) Current() Phase {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// Advance выполняет переход в указанную фазу.
func (t *Tracker) Advance(target Phase) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !validTransitions[t.current][target] {
		return &TransitionError{From: t.current, To: target}
	}

	t.history = append(t.history, TransitionRecord{
		From:      t.current,
		To:        target,
		Timestamp: time.Now().UTC(),
	})
	t.current = target
	return nil
}

// LiveSwitched — true, если alias уже переключён на новое поколение.
func (t *Tracker) LiveSwitched() bool {
	switch t.Current() {
	case PhaseCutOver, PhaseBackedUp, PhaseCleaned:
		return true
	default:
		return false
	}
}

// History возвращает копию истории переходов.
func (t *Tracker) History() []TransitionRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]TransitionRecord, len(t.history))
	copy(result, t.history)
	return result
}
