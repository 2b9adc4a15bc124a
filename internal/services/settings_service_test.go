package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/coop-registry/internal/models"
)

func TestSettings_UpsertKeepsDescription(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.createUser(t, "root@registry.test", models.UserRoleSystemAdmin, testPassword)

	created, err := env.container.Settings.Upsert(ctx, "registration_fee", &UpsertSettingRequest{
		Value:       "5000",
		Description: "Fee in NGN",
	}, admin.ID)
	require.NoError(t, err)
	assert.Equal(t, "5000", created.Value)

	updated, err := env.container.Settings.Upsert(ctx, "registration_fee", &UpsertSettingRequest{Value: "7500"}, admin.ID)
	require.NoError(t, err)
	assert.Equal(t, "7500", updated.Value)
	assert.Equal(t, "Fee in NGN", updated.Description)
	require.NotNil(t, updated.UpdatedBy)
	assert.Equal(t, admin.ID, *updated.UpdatedBy)

	all, err := env.container.Settings.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = env.container.Settings.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.container.Settings.Upsert(ctx, "  ", &UpsertSettingRequest{Value: "x"}, admin.ID)
	assert.ErrorIs(t, err, ErrBadRequest)

	var logs []models.ActivityLog
	require.NoError(t, env.db.Where("action = ?", ActionUpdateSetting).Order("created_at ASC").Find(&logs).Error)
	require.Len(t, logs, 2)
	assert.Equal(t, "5000", logs[1].Metadata.String("previousValue"))
}
