package mqtt

import "fmt"

// TopicPrefix is the root of every topic the access server publishes.
const TopicPrefix = "graylogic/access"

// Topics builds topic names for one site. The zero value uses the site
// "default".
//
//	topics := mqtt.Topics{Site: "hq"}
//	topics.Denied()          // graylogic/access/hq/denied
//	topics.Sync("audit")     // graylogic/access/hq/sync/audit
type Topics struct {
	Site string
}

func (t Topics) base() string {
	site := t.Site
	if site == "" {
		site = "default"
	}
	return fmt.Sprintf("%s/%s", TopicPrefix, site)
}

// Status returns the retained online/offline presence topic.
func (t Topics) Status() string {
	return t.base() + "/status"
}

// Denied returns the topic for forbidden requests seen by the gate.
func (t Topics) Denied() string {
	return t.base() + "/denied"
}

// Sync returns the topic for batch reconciliation summaries of one class.
func (t Topics) Sync(class string) string {
	return fmt.Sprintf("%s/sync/%s", t.base(), class)
}

// Retention returns the topic for retention purge reports.
func (t Topics) Retention() string {
	return t.base() + "/retention"
}

// AllEvents returns a wildcard matching every topic for the site.
func (t Topics) AllEvents() string {
	return t.base() + "/#"
}
