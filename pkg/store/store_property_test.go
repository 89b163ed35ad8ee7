package store

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/jiayi-1994/zstack-vtn/pkg/model"
)

// TestProperty_OneSubnetPerNetwork verifies that a network never holds two subnets.
// Property: creating a second subnet with a different id for a network fails
// with StateInconsistency and leaves the first binding in place.
func TestProperty_OneSubnetPerNetwork(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("at most one subnet per network", prop.ForAll(
		func(attempts []int) bool {
			s := newTestStore()
			if err := s.CreateNetwork(testNetwork("net-1")); err != nil {
				return false
			}
			var bound model.SubnetID
			for i, a := range attempts {
				id := model.SubnetID(fmt.Sprintf("sub-%d", a))
				err := s.CreateSubnet(testSubnet(string(id), "net-1", fmt.Sprintf("10.%d.0.0/24", i%250)))
				switch {
				case bound == "":
					if err != nil {
						return false
					}
					bound = id
				case id == bound:
					if err != nil {
						return false
					}
				default:
					if !model.IsStateInconsistency(err) {
						t.Logf("subnet %s accepted while %s is bound", id, bound)
						return false
					}
				}
				count := 0
				for _, sub := range s.Subnets() {
					if sub.NetworkID == "net-1" {
						count++
					}
				}
				if count != 1 || s.SubnetForNetwork("net-1").ID != bound {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(10, gen.IntRange(0, 3)),
	))

	properties.TestingRun(t)
}

// TestProperty_PortNeedsNetwork verifies that a port is accepted iff its network exists.
func TestProperty_PortNeedsNetwork(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("create port succeeds iff network exists", prop.ForAll(
		func(existing []bool, target int) bool {
			s := newTestStore()
			for i, present := range existing {
				if present {
					if err := s.CreateNetwork(testNetwork(fmt.Sprintf("net-%d", i))); err != nil {
						return false
					}
				}
			}
			networkID := fmt.Sprintf("net-%d", target)
			err := s.CreatePort(testPort("port-1", networkID, "fa:16:3e:00:00:01", "10.0.0.5"))

			exists := s.Network(model.NetworkID(networkID)) != nil
			if exists {
				return err == nil && s.Port("port-1") != nil
			}
			return model.IsStateInconsistency(err) && s.Port("port-1") == nil
		},
		gen.SliceOfN(6, gen.Bool()),
		gen.IntRange(0, 5),
	))

	properties.TestingRun(t)
}

// TestProperty_ServiceNetworkClosure verifies referential closure of service networks.
// Property: create succeeds iff the network, its subnet and every provider exist;
// a failed create writes nothing.
func TestProperty_ServiceNetworkClosure(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("service network needs network, subnet and providers", prop.ForAll(
		func(withNetwork, withSubnet bool, providers []int, known []bool) bool {
			s := newTestStore()
			if withNetwork {
				if err := s.CreateNetwork(testNetwork("svc")); err != nil {
					return false
				}
				if withSubnet {
					if err := s.CreateSubnet(testSubnet("svc-sub", "svc", "10.10.0.0/24")); err != nil {
						return false
					}
				}
			}
			for i, k := range known {
				if k {
					if err := s.CreateNetwork(testNetwork(fmt.Sprintf("prov-%d", i))); err != nil {
						return false
					}
				}
			}

			sn := &model.ServiceNetwork{ID: "svc", Type: model.NetworkTypePrivate}
			allProviders := true
			for _, p := range providers {
				sn.Providers = append(sn.Providers, model.ProviderNetwork{
					ID:   model.NetworkID(fmt.Sprintf("prov-%d", p)),
					Type: model.DependencyBidirectional,
				})
				if p >= len(known) || !known[p] {
					allProviders = false
				}
			}

			err := s.CreateServiceNetwork(sn)
			shouldSucceed := withNetwork && withSubnet && allProviders
			if shouldSucceed {
				return err == nil && s.ServiceNetwork("svc") != nil
			}
			return model.IsStateInconsistency(err) && s.ServiceNetwork("svc") == nil
		},
		gen.Bool(),
		gen.Bool(),
		gen.SliceOfN(3, gen.IntRange(0, 3)),
		gen.SliceOfN(4, gen.Bool()),
	))

	properties.TestingRun(t)
}
