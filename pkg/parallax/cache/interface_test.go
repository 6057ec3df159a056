package cache_test

import (
	"github.com/jamesainslie/parallax/pkg/parallax/cache"
	"github.com/jamesainslie/parallax/pkg/parallax/optimizer"
)

var _ optimizer.ResultCache = (*cache.Cache)(nil)
