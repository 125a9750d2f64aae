package nn

import (
	"fmt"
	"time"

	"esgcore/internal/model"
)

// Snapshot captures topology and parameters together with the encoder layout
// the network was trained against.
func (n *Network) Snapshot(id string, encoder model.EncoderSpec, createdAt time.Time) model.NetworkSnapshot {
	snap := model.NetworkSnapshot{
		VersionedRecord: model.CurrentVersion(),
		ID:              id,
		CreatedAt:       createdAt.UTC(),
		Topology:        make([]model.LayerTopology, len(n.layers)),
		Parameters:      make([]model.LayerParameters, len(n.layers)),
		Encoder:         encoder,
	}
	for i, layer := range n.layers {
		snap.Topology[i] = layer.topology()
		snap.Parameters[i] = layer.parameters()
	}
	return snap
}

// FromSnapshot rebuilds a network. Shape problems surface as
// ConfigurationError and no partially built network is returned.
func FromSnapshot(snap model.NetworkSnapshot) (*Network, error) {
	if len(snap.Topology) != len(snap.Parameters) {
		return nil, model.Misconfigured("snapshot.layers", "topology has %d layers, parameters %d", len(snap.Topology), len(snap.Parameters))
	}
	layers := make([]*Layer, 0, len(snap.Topology))
	for i := range snap.Topology {
		layer, err := newLayerFromParameters(snap.Topology[i], snap.Parameters[i])
		if err != nil {
			return nil, fmt.Errorf("snapshot layer %d: %w", i, err)
		}
		layers = append(layers, layer)
	}
	net, err := newNetwork(layers)
	if err != nil {
		return nil, err
	}
	if err := net.CheckFinite(); err != nil {
		return nil, model.Misconfigured("snapshot.parameters", "%v", err)
	}
	return net, nil
}
