package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/celerix-dev/celerix-gacha/internal/accounts"
	"github.com/celerix-dev/celerix-gacha/internal/errs"
	"github.com/celerix-dev/celerix-gacha/internal/journal"
	"github.com/celerix-dev/celerix-gacha/internal/ledger"
	"github.com/celerix-dev/celerix-gacha/internal/model"
	"github.com/celerix-dev/celerix-gacha/pkg/schema"
)

const maxImportSize = 32 << 20

type Syncer interface {
	Start(ctx context.Context, configPath, userID string) error
}

type Ledgers interface {
	Load(user, gameUID string) (schema.Ledger, error)
	LoadMetadata(user, gameUID string) (schema.Metadata, error)
	Import(user, account string, r io.Reader) (ledger.ImportStats, error)
}

type Runs interface {
	Recent(ctx context.Context, user, account string, limit int) ([]journal.Run, error)
}

type Credentials interface {
	Save(cred model.Credential, path string) error
}

type Handler struct {
	Layout      accounts.Layout
	Runner      Syncer
	Ledgers     Ledgers
	Credentials Credentials
	Runs        Runs
}

// Register mounts the account routes on g.
func (h *Handler) Register(g *gin.RouterGroup) {
	g.GET("/users/:user/accounts", h.ListAccounts)
	g.POST("/users/:user/accounts", h.AddAccount)
	g.POST("/users/:user/accounts/:account/sync", h.Sync)
	g.GET("/users/:user/accounts/:account/ledger", h.GetLedger)
	g.GET("/users/:user/accounts/:account/metadata", h.GetMetadata)
	g.POST("/users/:user/accounts/:account/import", h.Import)
	g.GET("/users/:user/accounts/:account/runs", h.GetRuns)
}

func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// account resolves the :user and :account params of an existing account.
func (h *Handler) account(c *gin.Context) (user, account string, ok bool) {
	user, account = c.Param("user"), c.Param("account")
	if _, err := h.Layout.AccountDir(user, account); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", "", false
	}
	if !h.Layout.Exists(user, account) {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return "", "", false
	}
	return user, account, true
}

func (h *Handler) ListAccounts(c *gin.Context) {
	names, err := h.Layout.Accounts(c.Param("user"))
	if errors.Is(err, errs.ErrInvalidName) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if names == nil {
		names = []string{}
	}
	c.JSON(http.StatusOK, names)
}

func (h *Handler) AddAccount(c *gin.Context) {
	var input struct {
		Account  string `json:"account" binding:"required"`
		Username string `json:"username"`
		Password string `json:"password"`
		Token    string `json:"token"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cred := model.Credential{Username: input.Username, Password: input.Password, Token: input.Token}
	if !cred.IsToken() && (cred.Username == "" || cred.Password == "") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password, or token, are required"})
		return
	}

	if err := accounts.ValidGameUID(input.Account); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user := c.Param("user")
	path, err := h.Layout.ConfigPath(user, input.Account)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if h.Layout.Exists(user, input.Account) {
		c.JSON(http.StatusConflict, gin.H{"error": "account already exists"})
		return
	}
	if err := h.Credentials.Save(cred, path); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "created", "account": input.Account})
}

func (h *Handler) Sync(c *gin.Context) {
	user, account, ok := h.account(c)
	if !ok {
		return
	}
	path, _ := h.Layout.ConfigPath(user, account)

	err := h.Runner.Start(c.Request.Context(), path, user)
	if errors.Is(err, errs.ErrSyncInProgress) {
		c.JSON(http.StatusConflict, gin.H{"error": "sync already running for this account"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "started"})
}

func (h *Handler) GetLedger(c *gin.Context) {
	user, account, ok := h.account(c)
	if !ok {
		return
	}
	l, err := h.Ledgers.Load(user, account)
	if errors.Is(err, ledger.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no ledger yet"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, l)
}

func (h *Handler) GetMetadata(c *gin.Context) {
	user, account, ok := h.account(c)
	if !ok {
		return
	}
	meta, err := h.Ledgers.LoadMetadata(user, account)
	if errors.Is(err, ledger.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no metadata yet"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, meta)
}

func (h *Handler) Import(c *gin.Context) {
	user, account, ok := h.account(c)
	if !ok {
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file uploaded"})
		return
	}
	if !strings.EqualFold(filepath.Ext(fh.Filename), ".json") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "only .json files are accepted"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer f.Close()

	stats, err := h.Ledgers.Import(user, account, io.LimitReader(f, maxImportSize))
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
	case errors.Is(err, errs.ErrStorage):
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, stats)
	}
}

func (h *Handler) GetRuns(c *gin.Context) {
	user, account, ok := h.account(c)
	if !ok {
		return
	}
	if h.Runs == nil {
		c.JSON(http.StatusOK, []journal.Run{})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}

	runs, err := h.Runs.Recent(c.Request.Context(), accounts.ResolveUser(user), account, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if runs == nil {
		runs = []journal.Run{}
	}
	c.JSON(http.StatusOK, runs)
}
