package armorysdk_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"armory/internal/config"
	"armory/internal/db"
	"armory/internal/engine"
	"armory/internal/migrate"
	"armory/internal/server"
	armorysdk "armory/sdk/go"
)

func newClient(t *testing.T) *armorysdk.Client {
	t.Helper()
	return newClientAt(t, armorysdk.DefaultBasePath)
}

func newClientAt(t *testing.T, basePath string) *armorysdk.Client {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(context.Background(), conn))

	e := engine.New(conn, config.Default("sdk-test"))
	_, key, err := e.Repo.CreateAPIKey(context.Background(), "rhodey", "sdk")
	require.NoError(t, err)
	handler, err := server.New(server.Config{Engine: e, BasePath: basePath})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := armorysdk.New(srv.URL)
	c.BasePath = basePath
	c.APIKey = key
	return c
}

func TestClientSuitFlow(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	version := 3
	s, err := c.CreateSuit(ctx, armorysdk.CreateSuitInput{ID: "war-machine", Version: &version})
	require.NoError(t, err)
	assert.Equal(t, 3, s.Version)
	assert.Empty(t, s.Armor)

	head, err := c.PeekArmor(ctx, "war-machine")
	require.NoError(t, err)
	assert.False(t, head.Found)

	_, err = c.PushArmor(ctx, "war-machine", armorysdk.PushArmorInput{Kind: "right_thrusters", Damaged: true, PowerRemaining: 12, Version: 3})
	require.NoError(t, err)
	s, err = c.PushArmor(ctx, "war-machine", armorysdk.PushArmorInput{Kind: "arc_reactor", PowerRemaining: 64, Version: 3})
	require.NoError(t, err)
	require.Len(t, s.Armor, 2)
	assert.Equal(t, "arc_reactor", s.Armor[0].Kind)
	assert.Nil(t, s.Armor[0].Damaged, "arc reactor carries no damage flag")

	compat, err := c.Compatibility(ctx, "war-machine")
	require.NoError(t, err)
	assert.True(t, compat.Compatible)

	report, err := c.Repair(ctx, "war-machine")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Repaired)
	thrusters := report.Suit.Armor[1]
	require.NotNil(t, thrusters.PowerRemaining)
	assert.Equal(t, 100, *thrusters.PowerRemaining)
	assert.Equal(t, 64, *report.Suit.Armor[0].PowerRemaining, "arc reactor is not repaired")

	head, err = c.PopArmor(ctx, "war-machine")
	require.NoError(t, err)
	require.True(t, head.Found)
	assert.Equal(t, "arc_reactor", head.Armor.Kind)

	page, err := c.Events(ctx, "war-machine", 10, "")
	require.NoError(t, err)
	require.NotEmpty(t, page.Items)
	assert.Equal(t, "armor.popped", page.Items[0].Type)
	assert.Equal(t, "rhodey", page.Items[0].ActorID)

	suits, err := c.ListSuits(ctx)
	require.NoError(t, err)
	require.Len(t, suits, 1)
	assert.Equal(t, 1, suits[0].Size)

	require.NoError(t, c.DeleteSuit(ctx, "war-machine"))
}

func TestClientErrors(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	_, err := c.GetSuit(ctx, "missing")
	var apiErr *armorysdk.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "not_found", apiErr.Code)

	c.APIKey = ""
	_, err = c.ListSuits(ctx)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestClientCustomBasePath(t *testing.T) {
	ctx := context.Background()
	c := newClientAt(t, "/armory/api")

	_, err := c.CreateSuit(ctx, armorysdk.CreateSuitInput{ID: "mk85"})
	require.NoError(t, err)
	s, err := c.PushArmor(ctx, "mk85", armorysdk.PushArmorInput{Kind: "helmet", Version: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Size)
	page, err := c.Events(ctx, "mk85", 5, "")
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)

	c.BasePath = armorysdk.DefaultBasePath
	_, err = c.GetSuit(ctx, "mk85")
	var apiErr *armorysdk.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}
