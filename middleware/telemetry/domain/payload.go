package domain

import (
	"encoding/json"
	"time"
)

// TimestampedPayload carrega o próprio instante de enfileiramento, para que a
// idade seja julgada independente da posição na fila.
type TimestampedPayload struct {
	EnqueuedAt time.Time
	Payload    RequestsPayload
}

func (p TimestampedPayload) Age(now time.Time) time.Duration {
	return now.Sub(p.EnqueuedAt)
}

// RequestsPayload é o corpo de POST {base}/requests.
//
// MessageUUID é fixado no enfileiramento: reenvios do mesmo payload carregam o
// mesmo id e o hub pode descartar duplicatas.
type RequestsPayload struct {
	InstanceUUID     string                 `json:"instance_uuid"`
	MessageUUID      string                 `json:"message_uuid"`
	Requests         []RequestsItem         `json:"requests"`
	ValidationErrors []ValidationErrorsItem `json:"validation_errors"`
	TimeOffset       float64                `json:"time_offset"`
}

type PathInfo struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

// AppInfo descreve a aplicação hospedeira. É enviado uma vez só.
//
// Com OpenAPI preenchido o documento substitui a lista de paths no payload.
type AppInfo struct {
	Paths         []PathInfo        `json:"paths"`
	OpenAPI       string            `json:"openapi,omitempty"`
	Versions      map[string]string `json:"versions"`
	ClientVersion string            `json:"client_version,omitempty"`
	Client        string            `json:"client"`
	Framework     string            `json:"framework"`
}

// AppInfoPayload é o corpo de POST {base}/info.
type AppInfoPayload struct {
	InstanceUUID string `json:"instance_uuid"`
	MessageUUID  string `json:"message_uuid"`
	AppInfo
}

type appInfoWire struct {
	InstanceUUID  string            `json:"instance_uuid,omitempty"`
	MessageUUID   string            `json:"message_uuid,omitempty"`
	Paths         *[]PathInfo       `json:"paths,omitempty"`
	OpenAPI       string            `json:"openapi,omitempty"`
	Versions      map[string]string `json:"versions"`
	ClientVersion string            `json:"client_version,omitempty"`
	Client        string            `json:"client"`
	Framework     string            `json:"framework"`
}

func (a AppInfo) wire(instanceUUID, messageUUID string) appInfoWire {
	w := appInfoWire{
		InstanceUUID:  instanceUUID,
		MessageUUID:   messageUUID,
		OpenAPI:       a.OpenAPI,
		Versions:      a.Versions,
		ClientVersion: a.ClientVersion,
		Client:        a.Client,
		Framework:     a.Framework,
	}
	if a.OpenAPI == "" {
		paths := a.Paths
		if paths == nil {
			paths = []PathInfo{}
		}
		w.Paths = &paths
	}
	return w
}

// MarshalJSON emite paths (vazio vira []) só quando não há documento OpenAPI.
func (a AppInfo) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.wire("", ""))
}

// MarshalJSON precisa existir aqui também: o método promovido de AppInfo
// descartaria os uuids.
func (p AppInfoPayload) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.AppInfo.wire(p.InstanceUUID, p.MessageUUID))
}
