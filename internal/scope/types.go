// ABOUTME: User, Breadcrumb and Snapshot records carried by the scope
// ABOUTME: All of them are copied on the way in and on the way out

package scope

import "time"

// User identifies the end user affected by a crash. The scope does not check
// that the identity fields agree with each other.
type User struct {
	ID        string            `json:"id,omitempty"`
	Username  string            `json:"username,omitempty"`
	Email     string            `json:"email,omitempty"`
	IPAddress string            `json:"ip_address,omitempty"`
	Segment   string            `json:"segment,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
}

func (u User) clone() User {
	out := u
	if u.Data != nil {
		out.Data = make(map[string]string, len(u.Data))
		for k, v := range u.Data {
			out.Data[k] = v
		}
	}
	return out
}

// Breadcrumb is one entry of the pre-crash trail. Seq is assigned by the
// Scope when the breadcrumb is appended and is unique within that Scope.
type Breadcrumb struct {
	Seq       uint64           `json:"seq"`
	Timestamp time.Time        `json:"timestamp"`
	Type      string           `json:"type,omitempty"`
	Category  string           `json:"category,omitempty"`
	Message   string           `json:"message,omitempty"`
	Level     Level            `json:"level,omitempty"`
	Data      map[string]Value `json:"data,omitempty"`
}

func (b Breadcrumb) clone() Breadcrumb {
	out := b
	out.Data = cloneValues(b.Data)
	return out
}

// Snapshot is a detached copy of every scope field.
type Snapshot struct {
	Tags        map[string]string `json:"tags,omitempty"`
	User        *User             `json:"user,omitempty"`
	Breadcrumbs []Breadcrumb      `json:"breadcrumbs,omitempty"`
	Contexts    map[string]Value  `json:"contexts,omitempty"`
	Extras      map[string]Value  `json:"extras,omitempty"`
	Fingerprint []string          `json:"fingerprint,omitempty"`
	Level       Level             `json:"level,omitempty"`
	Transaction string            `json:"transaction,omitempty"`
}

// Clone returns a deep copy of s.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		Level:       s.Level,
		Transaction: s.Transaction,
		Contexts:    cloneValues(s.Contexts),
		Extras:      cloneValues(s.Extras),
	}
	if s.Tags != nil {
		out.Tags = make(map[string]string, len(s.Tags))
		for k, v := range s.Tags {
			out.Tags[k] = v
		}
	}
	if s.User != nil {
		u := s.User.clone()
		out.User = &u
	}
	if s.Breadcrumbs != nil {
		out.Breadcrumbs = make([]Breadcrumb, len(s.Breadcrumbs))
		for i, b := range s.Breadcrumbs {
			out.Breadcrumbs[i] = b.clone()
		}
	}
	if s.Fingerprint != nil {
		out.Fingerprint = append([]string(nil), s.Fingerprint...)
	}
	return out
}
