package redis

import (
	"strings"

	"github.com/hyunkyoun/moira/job"
)

// DefaultKeyPrefix namespaces every key the store writes.
const DefaultKeyPrefix = "moira:"

// keyspace builds key names under one prefix so several deployments can
// share a database.
//
//	{prefix}job:{id}            hash: record, state, owner_id
//	{prefix}jobs                zset of all job IDs by creation time
//	{prefix}jobs:owner:{owner}  zset of one owner's jobs
//	{prefix}jobs:state:{state}  zset of jobs in one state
type keyspace string

func newKeyspace(prefix string) keyspace {
	if prefix != "" && !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return keyspace(prefix)
}

func (k keyspace) job(jobID string) string     { return string(k) + "job:" + jobID }
func (k keyspace) all() string                 { return string(k) + "jobs" }
func (k keyspace) owner(ownerID string) string { return string(k) + "jobs:owner:" + ownerID }
func (k keyspace) state(s job.State) string    { return string(k) + "jobs:state:" + string(s) }

// Hash fields of a job key.
const (
	fieldRecord = "record"
	fieldState  = "state"
	fieldOwner  = "owner_id"
)
