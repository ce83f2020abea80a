package mqtt

import "strings"

// Topics derives every topic from one prefix, e.g. "turbines"
type Topics struct {
	Prefix string
}

func (t Topics) QueryRequest() string  { return t.join("query/request") }
func (t Topics) QueryResponse() string { return t.join("query/response") }
func (t Topics) IngestTrigger() string { return t.join("ingest/trigger") }
func (t Topics) IngestReport() string  { return t.join("ingest/report") }

// Value is the retained topic of an address, e.g. turbines/values/Turbine-001/rpm
func (t Topics) Value(address string) string {
	return t.join("values") + address
}

// ReplyAllowed reports whether a query reply may be published on topic. Replies never go
// to the ingest or values subtrees, nor back to the request topic, and carry no wildcards.
func (t Topics) ReplyAllowed(topic string) bool {
	if topic == "" || strings.ContainsAny(topic, "+#") || topic == t.QueryRequest() {
		return false
	}
	for _, reserved := range []string{t.join("ingest"), t.join("values")} {
		if topic == reserved || strings.HasPrefix(topic, reserved+"/") {
			return false
		}
	}
	return true
}

func (t Topics) join(suffix string) string {
	return strings.TrimSuffix(t.Prefix, "/") + "/" + suffix
}
