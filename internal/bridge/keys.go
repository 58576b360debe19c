// ABOUTME: Store key layout shared by the bridge writer and the report reader
// ABOUTME: One key per scope field, breadcrumbs in ring slots

package bridge

import (
	"strconv"
	"strings"
)

// Record kinds, one per field family.
const (
	KindTag         = "tag"
	KindUser        = "user"
	KindBreadcrumb  = "breadcrumb"
	KindContext     = "context"
	KindExtra       = "extra"
	KindFingerprint = "fingerprint"
	KindLevel       = "level"
	KindTransaction = "transaction"
	KindMeta        = "meta"
)

// Keys of single-valued fields.
const (
	KeyUser        = "user"
	KeyFingerprint = "fingerprint"
	KeyLevel       = "level"
	KeyTransaction = "transaction"
	KeySession     = "meta.session"
)

const (
	tagPrefix        = "tag."
	contextPrefix    = "context."
	extraPrefix      = "extra."
	breadcrumbPrefix = "breadcrumb["
)

func tagKey(name string) string     { return tagPrefix + name }
func contextKey(name string) string { return contextPrefix + name }
func extraKey(name string) string   { return extraPrefix + name }

// breadcrumbKey returns the ring slot for a breadcrumb sequence number. With
// capacity C the live breadcrumbs always have C consecutive sequence numbers,
// so they occupy distinct slots and an evicted breadcrumb shares its slot with
// the one that replaced it.
func breadcrumbKey(seq uint64, capacity int) string {
	slot := seq % uint64(capacity)
	return breadcrumbPrefix + strconv.FormatUint(slot, 10) + "]"
}

// parseKey splits a store key into its kind and the field name, if any.
func parseKey(key string) (kind, name string, ok bool) {
	switch key {
	case KeyUser:
		return KindUser, "", true
	case KeyFingerprint:
		return KindFingerprint, "", true
	case KeyLevel:
		return KindLevel, "", true
	case KeyTransaction:
		return KindTransaction, "", true
	case KeySession:
		return KindMeta, "session", true
	}

	switch {
	case strings.HasPrefix(key, tagPrefix):
		return KindTag, strings.TrimPrefix(key, tagPrefix), true
	case strings.HasPrefix(key, contextPrefix):
		return KindContext, strings.TrimPrefix(key, contextPrefix), true
	case strings.HasPrefix(key, extraPrefix):
		return KindExtra, strings.TrimPrefix(key, extraPrefix), true
	case strings.HasPrefix(key, breadcrumbPrefix) && strings.HasSuffix(key, "]"):
		slot := strings.TrimSuffix(strings.TrimPrefix(key, breadcrumbPrefix), "]")
		if _, err := strconv.ParseUint(slot, 10, 64); err != nil {
			return "", "", false
		}
		return KindBreadcrumb, slot, true
	}
	return "", "", false
}
