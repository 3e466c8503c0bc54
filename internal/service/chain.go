package service

import (
	"context"

	"poolKeeper/internal/model"
)

// The methods below let the chain watcher drive the engine through the
// service so that every block and rollback is persisted.

func (s *Service) OnNewBlock(height uint64, hash string, timestamp uint64, confirmedIDs []model.TxID) {
	s.engine.OnNewBlock(height, hash, timestamp, confirmedIDs)
	s.persist(context.Background())
}

func (s *Service) OnRollback(txid model.TxID) {
	s.engine.OnRollback(txid)
	s.persist(context.Background())
}

func (s *Service) Unconfirm(txid model.TxID) bool {
	ok := s.engine.Unconfirm(txid)
	if ok {
		s.persist(context.Background())
	}
	return ok
}

func (s *Service) DropBlocksAbove(height uint64) int {
	n := s.engine.DropBlocksAbove(height)
	if n > 0 {
		s.persist(context.Background())
	}
	return n
}

func (s *Service) Block(height uint64) (model.BlockRecord, bool) {
	return s.engine.Block(height)
}

func (s *Service) BlocksAbove(height uint64) []model.BlockRecord {
	return s.engine.BlocksAbove(height)
}

func (s *Service) Tracked(ids []model.TxID) []model.TxID {
	return s.engine.Tracked(ids)
}
