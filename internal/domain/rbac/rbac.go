// Пакет rbac — роли и scopes доступа к API.
//
// Пользователь получает роль по группам IdP (или по realm_access.roles),
// Service Account — набор scopes из токена.
package rbac

// Роли в порядке возрастания привилегий.
const (
	RoleReadonly = "readonly"
	RoleAdmin    = "admin"
)

// Scopes Service Account'ов.
const (
	ScopeRecordsRead  = "records:read"
	ScopeRecordsWrite = "records:write"
)

// roleWeight — вес роли для сравнения.
var roleWeight = map[string]int{
	RoleReadonly: 1,
	RoleAdmin:    2,
}

func maxRole(a, b string) string {
	if roleWeight[a] >= roleWeight[b] {
		return a
	}
	return b
}

// HighestRole возвращает максимальную роль из набора.
// Если набор пуст — возвращает пустую строку.
func HighestRole(roles []string) string {
	if len(roles) == 0 {
		return ""
	}
	highest := roles[0]
	for _, r := range roles[1:] {
		highest = maxRole(highest, r)
	}
	return highest
}

// MapGroupsToRole определяет роль пользователя по группам IdP.
// Если ни одна группа не совпала — возвращает пустую строку.
func MapGroupsToRole(groups []string, adminGroups, readonlyGroups []string) string {
	adminSet := toSet(adminGroups)
	readonlySet := toSet(readonlyGroups)

	var roles []string
	for _, g := range groups {
		if adminSet[g] {
			roles = append(roles, RoleAdmin)
		}
		if readonlySet[g] {
			roles = append(roles, RoleReadonly)
		}
	}
	return HighestRole(roles)
}

// IsValidRole проверяет, является ли строка допустимой ролью.
func IsValidRole(role string) bool {
	_, ok := roleWeight[role]
	return ok
}

func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, item := range items {
		s[item] = true
	}
	return s
}
