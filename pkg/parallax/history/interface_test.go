package history_test

import (
	"github.com/jamesainslie/parallax/pkg/parallax/history"
	"github.com/jamesainslie/parallax/pkg/parallax/optimizer"
)

var (
	_ optimizer.Predictor = (*history.Store)(nil)
	_ optimizer.Recorder  = (*history.Store)(nil)
)
