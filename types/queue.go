package types

import (
	"fmt"
	"strings"
	"time"
)

// QueueItem is one pending or running grading job. There is at most
// one item per student system-wide; NetID is the lookup key. Started
// is the only field ever updated in place.
type QueueItem struct {
	NetID     string    `json:"netID" meddler:"net_id"`
	Phase     Phase     `json:"phase" meddler:"phase"`
	RepoURL   string    `json:"repoURL" meddler:"repo_url"`
	TimeAdded time.Time `json:"timeAdded" meddler:"time_added,localtime"`
	Started   bool      `json:"started" meddler:"started"`
	Admin     bool      `json:"admin" meddler:"admin"`
}

func (item *QueueItem) Normalize() error {
	item.NetID = strings.TrimSpace(item.NetID)
	if item.NetID == "" {
		return fmt.Errorf("queue item must have a netID")
	}
	if _, err := ParsePhase(string(item.Phase)); err != nil {
		return err
	}
	if item.TimeAdded.IsZero() {
		item.TimeAdded = time.Now()
	}
	return nil
}
