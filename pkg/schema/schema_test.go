package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidPurposeToken(t *testing.T) {
	assert.True(t, ValidPurposeToken("train"))
	assert.True(t, ValidPurposeToken("train:fine-tune"))
	assert.False(t, ValidPurposeToken(""))
	assert.False(t, ValidPurposeToken("Train"))
	assert.False(t, ValidPurposeToken("a::b"))
}

func TestClassifyPurpose(t *testing.T) {
	assert.Equal(t, "", ClassifyPurpose("search"))
	assert.Equal(t, ReasonUnknownPreserved, ClassifyPurpose("custom_use"))
}

func TestIsUndeclared(t *testing.T) {
	assert.True(t, IsUndeclared("undeclared"))
	assert.False(t, IsUndeclared("search"))
}

func TestControlConsistency(t *testing.T) {
	doc := map[string]any{
		"chain": []any{
			map[string]any{"engine": "e1", "result": "deny"},
		},
		"decision":   "deny",
		"combinator": "any_can_veto",
	}
	assert.NoError(t, ValidateControlBlock(doc))

	bad := map[string]any{
		"chain": []any{
			map[string]any{"engine": "e1", "result": "deny"},
		},
		"decision":   "allow",
		"combinator": "any_can_veto",
	}
	assert.Error(t, ValidateControlBlock(bad))
}

func TestPaymentSplitValid(t *testing.T) {
	amt := int64(100)
	share := 0.5
	assert.True(t, PaymentSplit{Party: "p1", Amount: &amt}.Valid())
	assert.True(t, PaymentSplit{Party: "p1", Share: &share}.Valid())
	assert.False(t, PaymentSplit{Party: "p1"}.Valid())
	bad := 1.5
	assert.False(t, PaymentSplit{Party: "p1", Share: &bad}.Valid())
}

func TestValidateDispute_OtherRequiresLongDescription(t *testing.T) {
	d := Dispute{DisputeID: "d1", Status: DisputeFiled, DisputeType: "other", Description: "too short"}
	assert.Error(t, ValidateDispute(d))

	d.Description = "this is a sufficiently long description of the dispute reason, really."
	assert.NoError(t, ValidateDispute(d))
}

func TestValidateDispute_TerminalRequiresResolution(t *testing.T) {
	d := Dispute{DisputeID: "d1", Status: DisputeResolved, DisputeType: "billing"}
	assert.Error(t, ValidateDispute(d))
	d.Resolution = "refunded"
	assert.NoError(t, ValidateDispute(d))

	nonTerminal := Dispute{DisputeID: "d2", Status: DisputeFiled, DisputeType: "billing", Resolution: "oops"}
	assert.Error(t, ValidateDispute(nonTerminal))
}

func TestValidateWorkflow_RejectsDuplicateAndSelfParent(t *testing.T) {
	w := Workflow{WorkflowID: "w1", Steps: []WorkflowStep{
		{ID: "a"}, {ID: "a"},
	}}
	assert.Error(t, ValidateWorkflow(w))

	w2 := Workflow{WorkflowID: "w2", Steps: []WorkflowStep{
		{ID: "a", Parents: []string{"a"}},
	}}
	assert.Error(t, ValidateWorkflow(w2))

	w3 := Workflow{WorkflowID: "w3", Steps: []WorkflowStep{
		{ID: "a"}, {ID: "b", Parents: []string{"a"}},
	}}
	assert.NoError(t, ValidateWorkflow(w3))
}

func TestValidateWorkflow_RejectsRepeatedParentWithinStep(t *testing.T) {
	w := Workflow{WorkflowID: "w4", Steps: []WorkflowStep{
		{ID: "a"}, {ID: "b", Parents: []string{"a", "a"}},
	}}
	assert.Error(t, ValidateWorkflow(w))
}

func TestValidateAttributionSources_DetectsCycle(t *testing.T) {
	ok := []AttributionSource{
		{SourceID: "a", Weight: 0.6},
		{SourceID: "b", Weight: 0.4, DerivedFrom: []string{"a"}},
	}
	assert.NoError(t, ValidateAttributionSources(ok))

	cyclic := []AttributionSource{
		{SourceID: "a", Weight: 0.5, DerivedFrom: []string{"b"}},
		{SourceID: "b", Weight: 0.5, DerivedFrom: []string{"a"}},
	}
	assert.Error(t, ValidateAttributionSources(cyclic))

	badWeight := []AttributionSource{{SourceID: "a", Weight: 1.5}}
	assert.Error(t, ValidateAttributionSources(badWeight))
}

func TestNormalizePolicyURL(t *testing.T) {
	got, err := NormalizePolicyURL("HTTPS://Example.COM:443/a/./b/../c/?x=1&y=2")
	assert.NoError(t, err)
	assert.Equal(t, "https://example.com/a/c/?x=1&y=2", got)
}

func TestCheckSafe_RejectsDeepNesting(t *testing.T) {
	limits := SafetyLimits{MaxDepth: 2, MaxKeys: 10, MaxArrayLen: 10, MaxTotalNodes: 100}
	deep := map[string]any{
		"a": map[string]any{
			"b": map[string]any{
				"c": "too deep",
			},
		},
	}
	assert.Error(t, CheckSafe(deep, limits))
}

func TestCheckSafe_RejectsWideArray(t *testing.T) {
	limits := DefaultSafetyLimits()
	limits.MaxArrayLen = 2
	arr := []any{1, 2, 3}
	assert.Error(t, CheckSafe(arr, limits))
}

func TestSpoolEntry_GenesisDigestLength(t *testing.T) {
	assert.Len(t, GenesisDigest, 64)
}

func TestNewDigest_TruncatesAbove1MiB(t *testing.T) {
	d := NewDigest(TruncationBoundaryBytes+1, "deadbeef")
	assert.Equal(t, DigestAlgTruncated1M, d.Alg)
	assert.EqualValues(t, TruncationBoundaryBytes+1, d.Bytes)

	d2 := NewDigest(10, "deadbeef")
	assert.Equal(t, DigestAlgSHA256, d2.Alg)
}
