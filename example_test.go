package litepool_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/karloscodes/litepool"
	"github.com/karloscodes/litepool/sqlite"
	"github.com/karloscodes/litepool/testsupport"
)

type Account struct {
	ID      uint
	Owner   string
	Balance int64
}

func TestPool_EndToEnd(t *testing.T) {
	for _, driver := range []sqlite.Driver{sqlite.DriverCGO, sqlite.DriverPure} {
		t.Run(string(driver), func(t *testing.T) {
			pool := testsupport.NewPool(t, testsupport.TestPoolOptions{
				Models: []any{&Account{}},
				Driver: driver,
			})
			ctx := context.Background()

			err := pool.With(ctx, func(c *litepool.Conn) error {
				return c.Transaction(ctx, func(tx *gorm.DB) error {
					if err := tx.Create(&Account{Owner: "ada", Balance: 100}).Error; err != nil {
						return err
					}
					return tx.Create(&Account{Owner: "grace", Balance: 50}).Error
				})
			})
			require.NoError(t, err)

			err = pool.With(ctx, func(c *litepool.Conn) error {
				return c.Transaction(ctx, func(tx *gorm.DB) error {
					if err := tx.Model(&Account{}).Where("owner = ?", "ada").
						Update("balance", gorm.Expr("balance - ?", 30)).Error; err != nil {
						return err
					}
					return tx.Model(&Account{}).Where("owner = ?", "grace").
						Update("balance", gorm.Expr("balance + ?", 30)).Error
				})
			})
			require.NoError(t, err)

			res, err := pool.Checkpoint(ctx, litepool.CheckpointTruncate)
			require.NoError(t, err)
			assert.True(t, res.Complete())

			size, err := pool.WALSize()
			require.NoError(t, err)
			assert.Zero(t, size)

			var accounts []Account
			require.NoError(t, pool.With(ctx, func(c *litepool.Conn) error {
				return c.Query(ctx, &accounts, "SELECT id, owner, balance FROM accounts ORDER BY owner")
			}))
			require.Len(t, accounts, 2)
			assert.Equal(t, int64(70), accounts[0].Balance)
			assert.Equal(t, int64(80), accounts[1].Balance)
		})
	}
}
