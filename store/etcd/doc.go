// Package etcd implements store.Store on an etcd v3 cluster. Each job is
// one JSON value under {prefix}jobs/{id}. Creates are guarded by the key's
// create revision and updates by its mod revision, so concurrent writers
// never lose an update or overwrite a terminal record.
//
// etcd suits deployments that already run it for coordination and keep a
// modest number of jobs: listing reads the whole prefix.
package etcd
