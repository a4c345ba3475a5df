package receipt

import (
	"sort"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestCanonicalHashProperties(t *testing.T) {
	base := sampleReceipt(t)
	properties := gopter.NewProperties(nil)

	properties.Property("metadata insertion order does not change the hash", prop.ForAll(
		func(metadata map[string]string) bool {
			keys := make([]string, 0, len(metadata))
			for k := range metadata {
				keys = append(keys, k)
			}
			sort.Sort(sort.Reverse(sort.StringSlice(keys)))
			reordered := make(map[string]string, len(metadata))
			for _, k := range keys {
				reordered[k] = metadata[k]
			}

			a := base.Clone()
			a.Commerce.Metadata = metadata
			b := base.Clone()
			b.Commerce.Metadata = reordered

			ha, errA := CanonicalHash(a)
			hb, errB := CanonicalHash(b)
			return errA == nil && errB == nil && ha == hb
		},
		gen.MapOf(gen.AlphaString(), gen.AlphaString()),
	))

	properties.Property("any description change changes the hash", prop.ForAll(
		func(suffix string) bool {
			changed := base.Clone()
			changed.Commerce.Description += suffix
			ha, errA := CanonicalHash(base)
			hb, errB := CanonicalHash(changed)
			return errA == nil && errB == nil && ha != hb
		},
		gen.AlphaString().SuchThat(func(s string) bool { return s != "" }),
	))

	properties.Property("attestations never change the hash", prop.ForAll(
		func(signer string) bool {
			signed := base.Clone()
			signed.Attestations = append(signed.Attestations, Attestation{Signer: signer, Role: RoleWitness})
			ha, errA := CanonicalHash(base)
			hb, errB := CanonicalHash(signed)
			return errA == nil && errB == nil && ha == hb
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
