package receiver

import (
	"encoding/json"
	"time"
)

const (
	// Namespaces tagging embedded learn and deliver blocks inside a form body.
	LearnXMLNS   = "http://commcareconnect.com/learn"
	DeliverXMLNS = "http://commcareconnect.com/deliver"
)

// XFormMetadata is the submission metadata block from CommCare HQ.
type XFormMetadata struct {
	Username        string    `json:"username"`
	Duration        int64     `json:"duration"`
	AppBuildVersion string    `json:"app_build_version"`
	TimeStart       time.Time `json:"timeStart"`
}

// XForm is a decoded form submission. It is immutable once received; the raw
// serialized body is preserved verbatim on the visit record.
type XForm struct {
	ID         string          `json:"id"`
	Domain     string          `json:"domain"`
	AppID      string          `json:"app_id"`
	XMLNS      string          `json:"xmlns"`
	ReceivedOn time.Time       `json:"received_on"`
	BuildID    string          `json:"build_id"`
	Metadata   XFormMetadata   `json:"metadata"`
	Form       map[string]any  `json:"form"`
	RawForm    json.RawMessage `json:"raw_form"`
}

// CommCareUsername returns the worker's fully-qualified HQ username,
// normalizing bare usernames to {username}@{domain}.commcarehq.org.
func (x *XForm) CommCareUsername() string {
	username := x.Metadata.Username
	for _, c := range username {
		if c == '@' {
			return username
		}
	}
	return username + "@" + x.Domain + ".commcarehq.org"
}
