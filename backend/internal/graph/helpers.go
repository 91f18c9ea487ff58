package graph

import (
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// ============================================================================
// Helper Functions
// ============================================================================

// birthdateLayout is the storage format of User.birthdate
const birthdateLayout = "2006-01-02"

func getIntFromRecord(record *neo4j.Record, key string) (int, bool) {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return 0, false
	}
	switch i := val.(type) {
	case int64:
		return int(i), true
	case int:
		return i, true
	}
	return 0, false
}

func getStringFromRecord(record *neo4j.Record, key string) string {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return ""
	}
	if str, ok := val.(string); ok {
		return str
	}
	return ""
}

func getBoolFromRecord(record *neo4j.Record, key string) bool {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return false
	}
	b, _ := val.(bool)
	return b
}

func getTimeFromRecord(record *neo4j.Record, key string) time.Time {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return time.Time{}
	}
	return toTime(val)
}

func getMapFromRecord(record *neo4j.Record, key string) map[string]interface{} {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return nil
	}
	switch m := val.(type) {
	case map[string]interface{}:
		return m
	case neo4j.Node:
		return m.Props
	}
	return nil
}

func getListFromRecord(record *neo4j.Record, key string) []interface{} {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return nil
	}
	list, _ := val.([]interface{})
	return list
}

func getStringFromMap(m map[string]interface{}, key, defaultValue string) string {
	val, ok := m[key]
	if !ok || val == nil {
		return defaultValue
	}
	if str, ok := val.(string); ok {
		return str
	}
	return defaultValue
}

func getIntFromMap(m map[string]interface{}, key string, defaultValue int) int {
	val, ok := m[key]
	if !ok || val == nil {
		return defaultValue
	}
	switch i := val.(type) {
	case int64:
		return int(i)
	case int:
		return i
	case float64:
		return int(i)
	}
	return defaultValue
}

func getBoolFromMap(m map[string]interface{}, key string) bool {
	val, ok := m[key]
	if !ok || val == nil {
		return false
	}
	b, _ := val.(bool)
	return b
}

func getTimeFromMap(m map[string]interface{}, key string) time.Time {
	val, ok := m[key]
	if !ok || val == nil {
		return time.Time{}
	}
	return toTime(val)
}

func getStringSliceFromMap(m map[string]interface{}, key string) []string {
	val, ok := m[key]
	if !ok || val == nil {
		return []string{}
	}
	slice, ok := val.([]interface{})
	if !ok {
		return []string{}
	}
	result := make([]string, 0, len(slice))
	for _, v := range slice {
		if str, ok := v.(string); ok {
			result = append(result, str)
		}
	}
	return result
}

// toTime accepts the temporal shapes the driver hands back
func toTime(val interface{}) time.Time {
	switch t := val.(type) {
	case time.Time:
		return t
	case neo4j.Date:
		return t.Time()
	case neo4j.LocalDateTime:
		return t.Time()
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed
		}
		if parsed, err := time.Parse(birthdateLayout, t); err == nil {
			return parsed
		}
	}
	return time.Time{}
}

// userFromProps maps User node properties plus its projected interests
func userFromProps(props map[string]interface{}, interests []interface{}) User {
	u := User{
		ID:                getStringFromMap(props, "id", ""),
		Email:             getStringFromMap(props, "email", ""),
		Name:              getStringFromMap(props, "name", ""),
		Username:          getStringFromMap(props, "username", ""),
		ProfilePictureURL: getStringFromMap(props, "profilePictureUrl", ""),
		Bio:               getStringFromMap(props, "bio", ""),
		Phone:             getStringFromMap(props, "phone", ""),
		Birthdate:         getTimeFromMap(props, "birthdate"),
		Gender:            Gender(getStringFromMap(props, "gender", string(GenderPreferNotToSay))),
		IsVerified:        getBoolFromMap(props, "isVerified"),
		IsActive:          getBoolFromMap(props, "isActive"),
		CreatedAt:         getTimeFromMap(props, "createdAt"),
		UpdatedAt:         getTimeFromMap(props, "updatedAt"),
		LastActive:        getTimeFromMap(props, "lastActive"),
		Interests:         []Interest{},
		Preferences: Preferences{
			MinAge:              getIntFromMap(props, "prefMinAge", 0),
			MaxAge:              getIntFromMap(props, "prefMaxAge", 0),
			GenderPreferences:   []Gender{},
			MaxConnectionDegree: getIntFromMap(props, "prefMaxDegree", DefaultMaxConnectionDegree),
			Interests:           getStringSliceFromMap(props, "prefInterests"),
		},
	}

	for _, g := range getStringSliceFromMap(props, "prefGenders") {
		u.Preferences.GenderPreferences = append(u.Preferences.GenderPreferences, Gender(g))
	}

	for _, item := range interests {
		im, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if id := getStringFromMap(im, "id", ""); id != "" {
			u.Interests = append(u.Interests, Interest{
				ID:       id,
				Category: getStringFromMap(im, "category", ""),
				Name:     getStringFromMap(im, "name", ""),
			})
		}
	}

	return u
}

func userFromRecord(record *neo4j.Record, userKey, interestsKey string) User {
	return userFromProps(getMapFromRecord(record, userKey), getListFromRecord(record, interestsKey))
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatBirthdate(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.Format(birthdateLayout)
}

func gendersToStrings(genders []Gender) []string {
	out := make([]string, 0, len(genders))
	for _, g := range genders {
		out = append(out, string(g))
	}
	return out
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func emptyToNil(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
