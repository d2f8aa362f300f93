// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import "errors"

var (
	// ErrCollectionNotFound — коллекция не зарегистрирована или её индекс отсутствует.
	ErrCollectionNotFound = errors.New("коллекция не найдена")
	// ErrRebuildInProgress — пересборка коллекции уже выполняется.
	ErrRebuildInProgress = errors.New("пересборка коллекции уже выполняется")
	// ErrInvalidArgument — некорректный параметр запроса.
	ErrInvalidArgument = errors.New("некорректный параметр запроса")
)
