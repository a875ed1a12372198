package apns

import "encoding/json"

type Alert struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type APS struct {
	Alert          Alert  `json:"alert"`
	Sound          string `json:"sound,omitempty"`
	Badge          int    `json:"badge,omitempty"`
	MutableContent int    `json:"mutable-content,omitempty"`
}

// Notification is an APNs alert payload. Data entries become top-level
// keys next to "aps".
type Notification struct {
	APS  APS
	Data map[string]interface{}
}

func (n Notification) MarshalJSON() ([]byte, error) {
	body := make(map[string]interface{}, len(n.Data)+1)
	for k, v := range n.Data {
		body[k] = v
	}
	body["aps"] = n.APS
	return json.Marshal(body)
}
