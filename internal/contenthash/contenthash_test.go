package contenthash

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/samotage/claude-headspace-sub014/internal/store/model"
)

func TestSumIsStableAcrossWhitespace(t *testing.T) {
	a := Sum(model.ActorAgent, "done")
	b := Sum(model.ActorAgent, "  done  \n")
	require.Equal(t, a, b)
}

func TestSumDiffersByActor(t *testing.T) {
	require.NotEqual(t, Sum(model.ActorUser, "done"), Sum(model.ActorAgent, "done"))
}

func TestSumDiffersByContent(t *testing.T) {
	require.NotEqual(t, Sum(model.ActorAgent, "done"), Sum(model.ActorAgent, "finished"))
}
