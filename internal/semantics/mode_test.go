package semantics

import "testing"

import "github.com/stretchr/testify/assert"

func TestEvaluateClassic(t *testing.T) {
	rules := Evaluate(Classic, RequestShape{})
	assert.False(t, rules.RequireUniqueKeyFieldInSchema.Enforced)
	assert.False(t, rules.NeedToLookupExistingVersion.Enforced)
	assert.True(t, rules.NeedToDeleteOldVersion.Enforced)
}

func TestEvaluateStrictInsert(t *testing.T) {
	rules := Evaluate(StrictInsert, RequestShape{})
	assert.True(t, rules.RequireUniqueKeyFieldInSchema.Enforced)
	assert.True(t, rules.RequireNoExistingDocument.Enforced)
	assert.False(t, rules.RequireExistingDocument.Enforced)
}

func TestEvaluateStrictUpdate(t *testing.T) {
	rules := Evaluate(StrictUpdate, RequestShape{})
	assert.True(t, rules.RequireExistingDocument.Enforced)
	assert.False(t, rules.RequireNoExistingDocument.Enforced)
}

func TestEvaluateVersionHybrid(t *testing.T) {
	insertOnly := Evaluate(VersionHybrid, RequestShape{RequestedVersion: -1})
	assert.True(t, insertOnly.RequireNoExistingDocument.Enforced)
	assert.False(t, insertOnly.RequireExistingDocument.Enforced)
	assert.False(t, insertOnly.RequireVersionEquality.Enforced)

	versioned := Evaluate(VersionHybrid, RequestShape{RequestedVersion: 42})
	assert.True(t, versioned.RequireExistingDocument.Enforced)
	assert.True(t, versioned.RequireVersionEquality.Enforced)
	assert.False(t, versioned.RequireNoExistingDocument.Enforced)

	noAssertion := Evaluate(VersionHybrid, RequestShape{RequestedVersion: 0})
	assert.False(t, noAssertion.RequireExistingDocument.Enforced)
	assert.False(t, noAssertion.RequireNoExistingDocument.Enforced)
	assert.False(t, noAssertion.RequireVersionEquality.Enforced)
}

func TestPrereqCacheInvalidatesOnGenerationChange(t *testing.T) {
	c := NewPrereqCache()

	r1 := c.Validate(VersionHybrid, SchemaCaps{Generation: 1})
	assert.False(t, r1.OK)

	r2 := c.Validate(VersionHybrid, SchemaCaps{
		Generation: 2, HasUniqueKeyField: true, HasVersionField: true, HasUpdateLog: true,
	})
	assert.True(t, r2.OK)

	// same generation reuses the cached (now stale-looking but correct) result
	r3 := c.Validate(VersionHybrid, SchemaCaps{Generation: 2})
	assert.True(t, r3.OK)
}
