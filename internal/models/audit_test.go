package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeHashDeterministic(t *testing.T) {
	record := AuditRecord{
		Sequence:   1,
		ActorID:    "PATIENT-1",
		SubjectID:  "ARTIFACT-1",
		Action:     AuditActionConsentGranted,
		ActionTime: 1700000000000,
	}

	assert.Equal(t, record.ComputeHash(), record.ComputeHash())
}

func TestComputeHashCoversAllPayloadFields(t *testing.T) {
	base := AuditRecord{
		Sequence:   2,
		ActorID:    "HIU-1",
		SubjectID:  "EXCHANGE-1",
		Action:     AuditActionExchangeInitiated,
		Detail:     "ARTIFACT-1",
		ActionTime: 1700000000000,
		PrevHash:   "abc",
	}
	baseHash := base.ComputeHash()

	mutations := []func(r *AuditRecord){
		func(r *AuditRecord) { r.Sequence = 3 },
		func(r *AuditRecord) { r.ActorID = "HIU-2" },
		func(r *AuditRecord) { r.SubjectID = "EXCHANGE-2" },
		func(r *AuditRecord) { r.Action = AuditActionExchangeDelivered },
		func(r *AuditRecord) { r.Detail = "ARTIFACT-2" },
		func(r *AuditRecord) { r.ActionTime = 1700000000001 },
		func(r *AuditRecord) { r.PrevHash = "def" },
	}

	for _, mutate := range mutations {
		mutated := base
		mutate(&mutated)
		assert.NotEqual(t, baseHash, mutated.ComputeHash())
	}
}
