package blockstore

import (
	"math/big"

	"github.com/goatnetwork/bond-aevum/internal/db"
	"github.com/goatnetwork/bond-aevum/internal/errors"
	"github.com/goatnetwork/bond-aevum/internal/types"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BlockStore is the append-only block store of one chain: blocks keyed by hash,
// a canonical flag forming the height index, and a transaction index.
type BlockStore struct {
	db     *gorm.DB
	logger *log.Entry
}

// StoredBlock is a block with the fork-choice metadata recorded next to it.
type StoredBlock struct {
	Block     *types.Block
	Score     *big.Int
	Seq       uint64
	Status    string
	Canonical bool
}

func New(gdb *gorm.DB, chain types.ChainID) *BlockStore {
	return &BlockStore{
		db:     gdb,
		logger: log.WithFields(log.Fields{"module": "blockstore", "chain": chain.String()}),
	}
}

// PutBlock stores a block and indexes its transactions. Storing a known hash again
// is a no-op.
func (s *BlockStore) PutBlock(block *types.Block, score *big.Int, seq uint64, status string) error {
	hash := block.Hash()
	record := &db.BlockRecord{
		Hash:     hash.String(),
		PrevHash: block.Header.PrevHash.String(),
		Height:   block.Header.Height,
		Status:   status,
		Score:    score.String(),
		Seq:      seq,
		Raw:      block.Bytes(),
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(record)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		txs := make([]db.TxRecord, len(block.Transactions))
		for i, t := range block.Transactions {
			txs[i] = db.TxRecord{
				TxHash:    t.Hash().String(),
				BlockHash: record.Hash,
				Height:    block.Header.Height,
				Position:  i,
			}
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(txs, 500).Error
	})
	if err != nil {
		return errors.NewStorageError("failed to store block %s", hash, err)
	}
	return nil
}

func (s *BlockStore) GetBlock(hash types.Hash) (*StoredBlock, error) {
	var record db.BlockRecord
	err := s.db.Where("hash = ?", hash.String()).First(&record).Error
	if err == gorm.ErrRecordNotFound {
		return nil, errors.NewNotFoundError("block %s", hash)
	}
	if err != nil {
		return nil, errors.NewStorageError("failed to load block %s", hash, err)
	}
	return decodeRecord(&record)
}

func (s *BlockStore) SetStatus(hash types.Hash, status string) error {
	err := s.db.Model(&db.BlockRecord{}).Where("hash = ?", hash.String()).Update("status", status).Error
	if err != nil {
		return errors.NewStorageError("failed to update status of %s", hash, err)
	}
	return nil
}

// SetCanonical moves the canonical flag off the disconnected blocks and onto the
// connected ones in one transaction.
func (s *BlockStore) SetCanonical(disconnected, connected []types.Hash) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if len(disconnected) > 0 {
			if err := tx.Model(&db.BlockRecord{}).Where("hash IN ?", hashStrings(disconnected)).
				Update("canonical", false).Error; err != nil {
				return err
			}
		}
		if len(connected) > 0 {
			if err := tx.Model(&db.BlockRecord{}).Where("hash IN ?", hashStrings(connected)).
				Updates(map[string]interface{}{"canonical": true, "status": db.BLOCK_STATUS_CONNECTED}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.NewStorageError("failed to update canonical chain", err)
	}
	s.logger.Debugf("Canonical index updated, disconnected %d, connected %d", len(disconnected), len(connected))
	return nil
}

func (s *BlockStore) CanonicalHashAt(height uint64) (types.Hash, error) {
	var record db.BlockRecord
	err := s.db.Select("hash").Where("height = ? AND canonical = ?", height, true).First(&record).Error
	if err == gorm.ErrRecordNotFound {
		return types.ZeroHash, errors.NewNotFoundError("no canonical block at height %d", height)
	}
	if err != nil {
		return types.ZeroHash, errors.NewStorageError("failed to read height index", err)
	}
	return types.NewHashFromStr(record.Hash)
}

// FindTx returns the hashes of every stored block containing txHash, on any
// branch, in first-seen order.
func (s *BlockStore) FindTx(txHash types.Hash) ([]types.Hash, error) {
	var blockHashes []string
	err := s.db.Model(&db.TxRecord{}).
		Joins("JOIN block_records ON block_records.hash = tx_records.block_hash").
		Where("tx_records.tx_hash = ?", txHash.String()).
		Order("block_records.seq ASC").
		Pluck("tx_records.block_hash", &blockHashes).Error
	if err != nil {
		return nil, errors.NewStorageError("failed to look up transaction %s", txHash, err)
	}

	res := make([]types.Hash, 0, len(blockHashes))
	for _, h := range blockHashes {
		hash, err := types.NewHashFromStr(h)
		if err != nil {
			return nil, errors.NewStorageError("corrupt block hash %s in tx index", h, err)
		}
		res = append(res, hash)
	}
	return res, nil
}

// LoadAll returns every stored block in first-seen order.
func (s *BlockStore) LoadAll() ([]*StoredBlock, error) {
	var records []db.BlockRecord
	if err := s.db.Order("seq ASC").Find(&records).Error; err != nil {
		return nil, errors.NewStorageError("failed to load blocks", err)
	}

	res := make([]*StoredBlock, 0, len(records))
	for i := range records {
		sb, err := decodeRecord(&records[i])
		if err != nil {
			return nil, err
		}
		res = append(res, sb)
	}
	return res, nil
}

func decodeRecord(record *db.BlockRecord) (*StoredBlock, error) {
	block, err := types.BlockFromBytes(record.Raw)
	if err != nil {
		return nil, errors.NewStorageError("corrupt block %s", record.Hash, err)
	}
	score, ok := new(big.Int).SetString(record.Score, 10)
	if !ok {
		return nil, errors.NewStorageError("corrupt score for block %s", record.Hash)
	}
	return &StoredBlock{
		Block:     block,
		Score:     score,
		Seq:       record.Seq,
		Status:    record.Status,
		Canonical: record.Canonical,
	}, nil
}

func hashStrings(hashes []types.Hash) []string {
	res := make([]string, len(hashes))
	for i, h := range hashes {
		res[i] = h.String()
	}
	return res
}
