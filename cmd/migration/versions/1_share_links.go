package versions

import (
	"gorm.io/gorm"
)

func addColumns(txn *gorm.DB, model interface{}, columns ...string) error {
	for _, col := range columns {
		if txn.Migrator().HasColumn(model, col) {
			continue
		}
		if err := txn.Migrator().AddColumn(model, col); err != nil {
			return err
		}
	}
	return nil
}

// Migration_1_share_links adds the recipient-side link columns and the share
// lineage columns that were introduced after the first release. Earlier
// deployments only tracked flat share edges, so shares created before this
// migration have no parent edge and no linked record.
func Migration_1_share_links(txn *gorm.DB) error {
	// Game edges are always roots of a share chain and carry no parent.
	type GameShare struct {
		LinkedGameId *string `gorm:"type:uuid"`
	}
	type ScoresheetShare struct {
		LinkedScoresheetId *string `gorm:"type:uuid"`
		ParentShareId      *string `gorm:"type:uuid;index"`
	}
	type RoundShare struct {
		LinkedRoundId *string `gorm:"type:uuid"`
		ParentShareId *string `gorm:"type:uuid;index"`
	}
	type MatchShare struct {
		AutoAccepted  bool    `gorm:"not null;default:false"`
		ParentShareId *string `gorm:"type:uuid;index"`
	}
	// Player edges are created directly between users, never spawned.
	type PlayerShare struct {
		LinkedPlayerId *string `gorm:"type:uuid"`
	}
	type GameRoleShare struct {
		LinkedGameRoleId *string `gorm:"type:uuid"`
		ParentShareId    *string `gorm:"type:uuid;index"`
	}

	if err := addColumns(txn, &GameShare{}, "LinkedGameId"); err != nil {
		return err
	}
	if err := addColumns(txn, &ScoresheetShare{}, "LinkedScoresheetId", "ParentShareId"); err != nil {
		return err
	}
	if err := addColumns(txn, &RoundShare{}, "LinkedRoundId", "ParentShareId"); err != nil {
		return err
	}
	if err := addColumns(txn, &MatchShare{}, "AutoAccepted", "ParentShareId"); err != nil {
		return err
	}
	if err := addColumns(txn, &PlayerShare{}, "LinkedPlayerId"); err != nil {
		return err
	}
	return addColumns(txn, &GameRoleShare{}, "LinkedGameRoleId", "ParentShareId")
}
