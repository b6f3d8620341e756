package api

import (
	"github.com/gin-gonic/gin"

	"github.com/Aidin1998/tickex/api/responses"
	"github.com/Aidin1998/tickex/common/apiutil"
	"github.com/Aidin1998/tickex/common/dbutil"
	"github.com/Aidin1998/tickex/internal/ledger"
)

// assetFunc resolves which wallet a route addresses.
type assetFunc func(c *gin.Context) (ledger.Asset, error)

func cashAsset(*gin.Context) (ledger.Asset, error) { return ledger.Cash(), nil }

func securityAsset(c *gin.Context) (ledger.Asset, error) {
	id, err := pathID(c, "instrument_id")
	if err != nil {
		return ledger.Asset{}, err
	}
	return ledger.Security(id), nil
}

type movementRequest struct {
	Amount int64  `json:"amount"`
	Note   string `json:"note" validate:"max=100"`
}

// POST /api/v1/wallets/...
func (s *Server) createWallet(asset assetFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, err := asset(c)
		if err != nil {
			apiutil.WriteError(c, err)
			return
		}
		var balance *ledger.Balance
		if a.IsCash() {
			balance, err = s.ledger.CreateCashWallet(c.Request.Context(), currentUser(c))
		} else {
			balance, err = s.ledger.CreateSecurityWallet(c.Request.Context(), currentUser(c), a.InstrumentID)
		}
		if err != nil {
			apiutil.WriteError(c, err)
			return
		}
		responses.Created(c, balance)
	}
}

// GET /api/v1/wallets/...
func (s *Server) getBalance(asset assetFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, err := asset(c)
		if err != nil {
			apiutil.WriteError(c, err)
			return
		}
		balance, err := s.ledger.Balance(c.Request.Context(), currentUser(c), a)
		if err != nil {
			apiutil.WriteError(c, err)
			return
		}
		responses.Success(c, balance)
	}
}

// GET /api/v1/wallets/.../history
func (s *Server) getHistory(asset assetFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, err := asset(c)
		if err != nil {
			apiutil.WriteError(c, err)
			return
		}
		var page dbutil.Page
		if err := c.ShouldBindQuery(&page); err != nil {
			_ = c.Error(err).SetType(gin.ErrorTypeBind)
			return
		}
		rows, total, err := s.ledger.History(c.Request.Context(), currentUser(c), a, page)
		if err != nil {
			apiutil.WriteError(c, err)
			return
		}
		responses.Paginated(c, rows, page, total)
	}
}

type movement func(userID int64, a ledger.Asset, req *movementRequest, c *gin.Context) (*ledger.Balance, error)

func (s *Server) move(asset assetFunc, apply movement) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, err := asset(c)
		if err != nil {
			apiutil.WriteError(c, err)
			return
		}
		var req movementRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			_ = c.Error(err).SetType(gin.ErrorTypeBind)
			return
		}
		if err := s.validator.Validate(&req); err != nil {
			apiutil.WriteError(c, err)
			return
		}
		balance, err := apply(currentUser(c), a, &req, c)
		if err != nil {
			apiutil.WriteError(c, err)
			return
		}
		responses.Success(c, balance)
	}
}

// POST /api/v1/wallets/.../deposit
func (s *Server) deposit(asset assetFunc) gin.HandlerFunc {
	return s.move(asset, func(userID int64, a ledger.Asset, req *movementRequest, c *gin.Context) (*ledger.Balance, error) {
		return s.ledger.Deposit(c.Request.Context(), userID, a, req.Amount, req.Note)
	})
}

// POST /api/v1/wallets/.../withdraw
func (s *Server) withdraw(asset assetFunc) gin.HandlerFunc {
	return s.move(asset, func(userID int64, a ledger.Asset, req *movementRequest, c *gin.Context) (*ledger.Balance, error) {
		return s.ledger.Withdraw(c.Request.Context(), userID, a, req.Amount, req.Note)
	})
}

// POST /api/v1/wallets/.../block and .../unblock
func (s *Server) setBlocked(asset assetFunc, blocked bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, err := asset(c)
		if err != nil {
			apiutil.WriteError(c, err)
			return
		}
		var balance *ledger.Balance
		if blocked {
			balance, err = s.ledger.Block(c.Request.Context(), currentUser(c), a)
		} else {
			balance, err = s.ledger.Unblock(c.Request.Context(), currentUser(c), a)
		}
		if err != nil {
			apiutil.WriteError(c, err)
			return
		}
		responses.Success(c, balance)
	}
}
