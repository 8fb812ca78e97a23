// Package model defines the data types shared across the discovery and
// traffic-governance client: service keys, instances, and versioned service
// data snapshots.
package model

import "time"

// Health is the liveness state of an instance as known to the local cache.
type Health int

const (
	HealthUnknown Health = iota
	HealthUp
	HealthDown
)

func (h Health) String() string {
	switch h {
	case HealthUp:
		return "up"
	case HealthDown:
		return "down"
	default:
		return "unknown"
	}
}

// ServiceKey uniquely identifies a logical service. Case-sensitive, opaque.
type ServiceKey struct {
	Namespace string
	Name      string
}

func (k ServiceKey) String() string {
	return k.Namespace + "/" + k.Name
}

func (k ServiceKey) Empty() bool {
	return k.Namespace == "" || k.Name == ""
}

// Instance is one addressable endpoint of a service.
type Instance struct {
	ID       string
	Host     string
	Port     int
	Weight   int
	Metadata map[string]string
	Health   Health
	Isolate  bool
}

// Clone returns a deep copy so callers can mutate metadata without
// corrupting a snapshot that other readers still hold.
func (i Instance) Clone() Instance {
	c := i
	if i.Metadata != nil {
		c.Metadata = make(map[string]string, len(i.Metadata))
		for k, v := range i.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

// DataKind distinguishes the two things a ServiceData snapshot can carry.
type DataKind int

const (
	DataKindInstances DataKind = iota
	DataKindRoutingRules
)

// ServiceData is an immutable, versioned snapshot of a service's instance
// list or routing rules. Once published it is never mutated; a new
// snapshot replaces it atomically.
type ServiceData struct {
	Key       ServiceKey
	Kind      DataKind
	Revision  string
	FetchTime time.Time
	Instances []Instance
}

// Newer reports whether candidate carries a strictly greater revision than
// the receiver. An empty/zero-value base is always considered older.
// Revisions are compared as decimal numbers: a longer revision string is
// greater, and revisions of equal length compare lexically.
func (d *ServiceData) Newer(candidate *ServiceData) bool {
	if d == nil {
		return candidate != nil
	}
	if candidate == nil {
		return false
	}
	if len(candidate.Revision) != len(d.Revision) {
		return len(candidate.Revision) > len(d.Revision)
	}
	return candidate.Revision > d.Revision
}
