package pipeline

import (
	"context"
	"testing"

	"clipfactory/internal/mocks"
	"clipfactory/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestDecentralizedChainerEnqueuesSuccessor(t *testing.T) {
	broker := new(mocks.MockBroker)
	broker.On("Enqueue", mock.Anything, types.StageTranscribe, types.StagePayload{RootID: "r1"}, "r1").
		Return(types.EnqueueResult{TaskID: "transcribe:r1"}, nil).Once()

	chainer := NewDecentralizedChainer(broker)
	require.NoError(t, chainer.OnStageComplete(context.Background(), "r1", types.StageIngest))
	require.NoError(t, chainer.OnStageComplete(context.Background(), "r1", types.StageTexts))

	broker.AssertExpectations(t)
	broker.AssertNumberOfCalls(t, "Enqueue", 1)
}

func TestLateBroker(t *testing.T) {
	late := &LateBroker{}
	_, err := late.Enqueue(context.Background(), types.StageRank, types.StagePayload{}, "k")
	assert.ErrorIs(t, err, ErrBrokerUnset)

	broker := new(mocks.MockBroker)
	broker.On("Enqueue", mock.Anything, types.StageRank, mock.Anything, "k").
		Return(types.EnqueueResult{TaskID: "rank:k", Duplicate: true}, nil)
	late.Set(broker)

	res, err := late.Enqueue(context.Background(), types.StageRank, types.StagePayload{}, "k")
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
}
