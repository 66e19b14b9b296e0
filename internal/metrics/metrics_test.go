package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"

	"github.com/oofstack/oofcore/pkg/clientkind"
)

func TestNew_RegistersAndObserves(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.ObserveJobLeased(clientkind.JobCompute)
	c.ObserveMoment(clientkind.MomentSoldTooEarly)
	c.PriceCacheHits.Inc()

	mfs, err := reg.Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, mfs)
}
