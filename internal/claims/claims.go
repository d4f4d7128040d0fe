// Package claims holds the identity and authorization bundle handed to
// downstream applications after a successful login.
package claims

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// AppActions is the set of actions a user may perform within one application.
type AppActions struct {
	ApplicationID   int64
	ApplicationName string
	Actions         []string
}

// Features lists per-application actions in application-id order. It encodes
// as a JSON object keyed by application name with keys kept in slice order.
type Features []AppActions

// Actions returns the action list for the named application, or nil.
func (f Features) Actions(application string) []string {
	for _, app := range f {
		if app.ApplicationName == application {
			return app.Actions
		}
	}
	return nil
}

// Allows reports whether action is granted within application.
func (f Features) Allows(application, action string) bool {
	for _, a := range f.Actions(application) {
		if a == action {
			return true
		}
	}
	return false
}

func (f Features) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, app := range f {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(app.ApplicationName)
		if err != nil {
			return nil, err
		}
		actions := app.Actions
		if actions == nil {
			actions = []string{}
		}
		value, err := json.Marshal(actions)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON keeps the document's key order. Application ids are not part
// of the wire format and stay zero.
func (f *Features) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*f = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("claims: features must be a JSON object")
	}
	out := Features{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("claims: unexpected features key %v", keyTok)
		}
		var actions []string
		if err := dec.Decode(&actions); err != nil {
			return fmt.Errorf("claims: features[%q]: %w", name, err)
		}
		out = append(out, AppActions{ApplicationName: name, Actions: actions})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*f = out
	return nil
}

// Claims is the derived identity + authorization record. It is built fresh on
// every login and never persisted.
type Claims struct {
	Subject  int64    `json:"sub"`
	Email    string   `json:"email"`
	Groups   []string `json:"groups"`
	Features Features `json:"features"`
}

// Build assembles Claims from already validated query results. Group names are
// de-duplicated keeping their first position; application order is preserved.
// A non-positive user id or an empty email is a caller bug and panics.
func Build(userID int64, email string, groups []string, apps []AppActions) Claims {
	if userID <= 0 {
		panic(fmt.Sprintf("claims: invalid user id %d", userID))
	}
	if email == "" {
		panic("claims: email is required")
	}

	seen := make(map[string]struct{}, len(groups))
	groupSet := make([]string, 0, len(groups))
	for _, g := range groups {
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		groupSet = append(groupSet, g)
	}

	features := make(Features, 0, len(apps))
	for _, app := range apps {
		actions := make([]string, len(app.Actions))
		copy(actions, app.Actions)
		features = append(features, AppActions{
			ApplicationID:   app.ApplicationID,
			ApplicationName: app.ApplicationName,
			Actions:         actions,
		})
	}

	return Claims{
		Subject:  userID,
		Email:    email,
		Groups:   groupSet,
		Features: features,
	}
}
