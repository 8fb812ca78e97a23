package connector

import (
	"strconv"

	"github.com/meshgov/polaris-client/codec"
	"github.com/meshgov/polaris-client/model"
)

// wireInstance is the on-the-wire shape stored in etcd. Kept separate
// from model.Instance so the wire format doesn't silently drift if the
// in-memory model grows fields the control plane doesn't need.
type wireInstance struct {
	ID       string            `json:"id"`
	Host     string            `json:"host"`
	Port     int               `json:"port"`
	Weight   int               `json:"weight"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

var wireCodec = codec.GetCodec(codec.CodecTypeJSON)

func encodeInstance(inst model.Instance) string {
	b, _ := wireCodec.Encode(wireInstance{
		ID:       inst.ID,
		Host:     inst.Host,
		Port:     inst.Port,
		Weight:   inst.Weight,
		Metadata: inst.Metadata,
	})
	return string(b)
}

func decodeInstance(raw []byte) (model.Instance, error) {
	var w wireInstance
	if err := wireCodec.Decode(raw, &w); err != nil {
		return model.Instance{}, err
	}
	return model.Instance{
		ID:       w.ID,
		Host:     w.Host,
		Port:     w.Port,
		Weight:   w.Weight,
		Metadata: w.Metadata,
		Health:   model.HealthUp,
	}, nil
}

func revisionOf(rev int64) string {
	return strconv.FormatInt(rev, 10)
}
