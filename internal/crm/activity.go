package crm

import (
	"errors"
	"strings"

	"github.com/tidwall/gjson"
)

// Call directions as reported in DIRECTION.
const (
	CallIncoming = "incoming"
	CallOutgoing = "outgoing"
	CallUnknown  = "unknown"
)

// callTypeID is the activity TYPE_ID Bitrix24 uses for calls.
const callTypeID = "2"

var (
	DefaultRecordingPaths    = []string{"FILES.0.id", "FILES.0.FILE_ID", "STORAGE_ELEMENT_IDS.0", "SETTINGS.FILE_ID", "SETTINGS.RECORD_FILE_ID"}
	DefaultRecordingURLPaths = []string{"FILES.0.url"}
	DefaultCallProviders     = []string{"VOXIMPLANT_CALL", "ASTERISK_CALL", "CALL"}
	DefaultOwnerRules        = []OwnerRule{
		{Type: "BINDINGS.0.OWNER_TYPE_ID", ID: "BINDINGS.0.OWNER_ID"},
		{Type: "OWNER_TYPE_ID", ID: "OWNER_ID"},
		{Type: "SETTINGS.OWNER_TYPE_ID", ID: "SETTINGS.OWNER_ID"},
		{Type: "COMMUNICATIONS.0.ENTITY_TYPE_ID", ID: "COMMUNICATIONS.0.ENTITY_ID"},
	}
)

// OwnerRule names the gjson paths of an entity type and id pair.
type OwnerRule struct {
	Type string `yaml:"type" json:"type"`
	ID   string `yaml:"id" json:"id"`
}

// Owner is the CRM entity a call belongs to.
type Owner struct {
	TypeID string `json:"type_id"`
	ID     string `json:"id"`
}

// RecordingRef points at a call recording. URL wins over FileID when set.
type RecordingRef struct {
	FileID string `json:"file_id"`
	URL    string `json:"url,omitempty"`
}

// Activity is a raw crm.activity record queried by gjson paths.
type Activity struct {
	raw gjson.Result
}

// ParseActivity accepts the JSON object returned in "result".
func ParseActivity(b []byte) (*Activity, error) {
	if !gjson.ValidBytes(b) {
		return nil, errors.New("activity: invalid json")
	}
	r := gjson.ParseBytes(b)
	if !r.IsObject() {
		return nil, errors.New("activity: not an object")
	}
	return &Activity{raw: r}, nil
}

func (a *Activity) ID() string { return a.Get("ID") }

// Get returns the trimmed string at path, or "" when absent or null.
func (a *Activity) Get(path string) string {
	v := a.raw.Get(path)
	if !v.Exists() || v.Type == gjson.Null {
		return ""
	}
	return strings.TrimSpace(v.String())
}

// Raw returns the record as JSON.
func (a *Activity) Raw() string { return a.raw.Raw }

// Recording walks idPaths in order and returns the first usable file id.
// The first non-empty urlPaths entry is attached as the download URL.
func (a *Activity) Recording(idPaths, urlPaths []string) (RecordingRef, bool) {
	var ref RecordingRef
	for _, p := range idPaths {
		if v := a.Get(p); usable(v) {
			ref.FileID = v
			break
		}
	}
	if ref.FileID == "" {
		return RecordingRef{}, false
	}
	for _, p := range urlPaths {
		if v := a.Get(p); v != "" {
			ref.URL = v
			break
		}
	}
	return ref, true
}

// Owner applies rules in order; the first pair with both values set wins.
func (a *Activity) Owner(rules []OwnerRule) (Owner, bool) {
	for _, r := range rules {
		typ, id := a.Get(r.Type), a.Get(r.ID)
		if usable(typ) && usable(id) {
			return Owner{TypeID: typ, ID: id}, true
		}
	}
	return Owner{}, false
}

// IsCall reports whether the record is a telephony activity. Records that
// carry neither TYPE_ID nor PROVIDER_ID are given the benefit of the doubt.
func (a *Activity) IsCall(providers []string) bool {
	typ, provider := a.Get("TYPE_ID"), a.Get("PROVIDER_ID")
	if typ == "" && provider == "" {
		return true
	}
	if typ == callTypeID {
		return true
	}
	return IsCallProvider(provider, providers)
}

// CallType maps DIRECTION to incoming or outgoing.
func (a *Activity) CallType() string {
	switch a.Get("DIRECTION") {
	case "1":
		return CallIncoming
	case "2":
		return CallOutgoing
	default:
		return CallUnknown
	}
}

// IsCallProvider matches provider against the configured call providers.
func IsCallProvider(provider string, providers []string) bool {
	if provider == "" {
		return false
	}
	for _, p := range providers {
		if strings.EqualFold(p, provider) {
			return true
		}
	}
	return false
}

func usable(v string) bool {
	return v != "" && v != "0" && v != "null"
}
