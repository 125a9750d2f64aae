package platform

import (
	"encoding/binary"
	"math"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	gocache "github.com/patrickmn/go-cache"

	"esgcore/internal/model"
)

// scoreCache memoizes interpreted scores by network generation and feature
// vector. A zero TTL disables it.
type scoreCache struct {
	entries *gocache.Cache
}

func newScoreCache(ttl time.Duration) *scoreCache {
	if ttl <= 0 {
		return &scoreCache{}
	}
	return &scoreCache{entries: gocache.New(ttl, 2*ttl)}
}

func cacheKey(generation uint64, vector []float64) string {
	d := xxhash.New()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], generation)
	_, _ = d.Write(buf[:])
	for _, v := range vector {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		_, _ = d.Write(buf[:])
	}
	return strconv.FormatUint(d.Sum64(), 16)
}

func (c *scoreCache) get(key string) (model.ESGScore, bool) {
	if c.entries == nil {
		return model.ESGScore{}, false
	}
	v, ok := c.entries.Get(key)
	if !ok {
		return model.ESGScore{}, false
	}
	score, ok := v.(model.ESGScore)
	return score, ok
}

func (c *scoreCache) set(key string, score model.ESGScore) {
	if c.entries == nil {
		return
	}
	c.entries.SetDefault(key, score)
}

func (c *scoreCache) flush() {
	if c.entries == nil {
		return
	}
	c.entries.Flush()
}

func (c *scoreCache) len() int {
	if c.entries == nil {
		return 0
	}
	return c.entries.ItemCount()
}
