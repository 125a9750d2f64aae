package tuning

import (
	"testing"

	"esgcore/internal/model"
	"esgcore/internal/nn"
	"esgcore/internal/train"
)

func TestPolicyNames(t *testing.T) {
	tests := []struct {
		policy ActionPolicy
		want   string
	}{
		{policy: BatchSizePolicy{}, want: "batch_size"},
		{policy: TopologyReductionPolicy{}, want: "hidden_neurons"},
		{policy: AugmentationPolicy{}, want: "augmentation_factor"},
	}
	for _, tc := range tests {
		if got := tc.policy.Name(); got != tc.want {
			t.Fatalf("unexpected policy name: got=%s want=%s", got, tc.want)
		}
	}
}

func TestTopologyReductionAtMinimumIsRejected(t *testing.T) {
	topology := nn.Topology{Inputs: 4, Hidden: []nn.LayerSpec{{Size: 1}}}
	p := TopologyReductionPolicy{}.Propose(train.DefaultConfig(), topology, DefaultLimits())
	if p.Action.Status != model.ActionRejected {
		t.Fatalf("expected rejection for minimal topology, got %s", p.Action.Status)
	}
}

func TestAugmentationLimit(t *testing.T) {
	cfg := train.DefaultConfig()
	cfg.AugmentationFactor = 8
	p := AugmentationPolicy{}.Propose(cfg, nn.Topology{}, DefaultLimits())
	if p.Action.Status != model.ActionRejected || p.mutate != nil {
		t.Fatalf("expected rejected augmentation proposal, got %+v", p.Action)
	}
}

func TestBottleneckString(t *testing.T) {
	if BottleneckTrainingTime.String() != "training_time" || Bottleneck(42).String() != "bottleneck(42)" {
		t.Fatal("unexpected bottleneck names")
	}
}
