package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnvelopeWireFormat(t *testing.T) {
	env, err := New(KindExtractionRequested, ExtractionRequested{WorkItemID: 7, OwnerID: 3, SourceURL: "http://blob/p.pdf"})
	require.NoError(t, err)
	body, err := Marshal(env)
	require.NoError(t, err)
	require.JSONEq(t, `{"kind":"EXTRACTION_REQUESTED","payload":{"workItemId":7,"ownerId":3,"sourceUrl":"http://blob/p.pdf"}}`, string(body))
}

func TestSummarizationPayloadFieldNames(t *testing.T) {
	b, err := json.Marshal(SummarizationRequested{WorkItemID: 1, ExtractedDocURL: "u", Prompt: "p", Language: "en"})
	require.NoError(t, err)
	require.JSONEq(t, `{"workItemId":1,"extractedDocUrl":"u","prompt":"p","language":"en"}`, string(b))

	b, err = json.Marshal(SummarizationCompleted{WorkItemID: 1, ResultLocator: "k"})
	require.NoError(t, err)
	require.JSONEq(t, `{"workItemId":1,"resultLocator":"k"}`, string(b))
}

func TestDecodeChecksKind(t *testing.T) {
	env, err := New(KindSummarizationCompleted, SummarizationCompleted{WorkItemID: 7, ResultLocator: "k"})
	require.NoError(t, err)

	got, err := Decode[SummarizationCompleted](env, KindSummarizationCompleted)
	require.NoError(t, err)
	require.Equal(t, int64(7), got.WorkItemID)

	_, err = Decode[ExtractionRequested](env, KindExtractionRequested)
	require.Error(t, err)
}

func TestUnmarshalRejectsUnknownKind(t *testing.T) {
	_, err := Unmarshal([]byte(`{"kind":"NOPE","payload":{}}`))
	require.Error(t, err)
	_, err = New(Kind("NOPE"), struct{}{})
	require.Error(t, err)
}

func TestTopology(t *testing.T) {
	bindings := Topology()
	require.Len(t, bindings, 6)
	require.Equal(t, Binding{Queue: "paperflow.extraction_requested", RoutingKey: "EXTRACTION_REQUESTED"}, bindings[0])
	require.Equal(t, []string{
		"paperflow.extraction_requested",
		"paperflow.summarization_requested",
		"paperflow.summarization_completed",
		StatsQueue,
	}, Queues())
}
