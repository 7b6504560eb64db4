package queue_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blockqueue/pkg/backend"
	"blockqueue/pkg/queue"
)

func TestLoadConfigParsesYAML(t *testing.T) {
	cfg, err := queue.LoadConfig(strings.NewReader(`
threshold: 25
table_cache_size: 4
table_size: 1024
`))
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.Threshold)
	assert.Equal(t, 4, cfg.TableCacheSize)
	assert.Equal(t, 1024, cfg.TableSize)
}

func TestConfigOptionsWiresTableCache(t *testing.T) {
	cfg := queue.Config{Threshold: 10, TableCacheSize: 4, TableSize: 512}
	d := queue.NewDriver(backend.NewNull(), nil, nil, cfg.Options()...)

	require.NoError(t, d.TableCacheErr())
	require.NotNil(t, d.TableCache())
	assert.EqualValues(t, 4*512, d.TableCache().TotalBytes())
}

func TestConfigOptionsOmitsTableCacheWhenUnset(t *testing.T) {
	cfg := queue.Config{Threshold: 10}
	d := queue.NewDriver(backend.NewNull(), nil, nil, cfg.Options()...)

	assert.Nil(t, d.TableCache())
	assert.NoError(t, d.TableCacheErr())
}
