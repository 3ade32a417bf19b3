package calibratehttp

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"calibrator/internal/calibrate"
	"calibrator/internal/logger"
	"calibrator/internal/sqx"
	"calibrator/internal/store"

	"github.com/gin-gonic/gin"
)

var log = logger.Named("http")

// Server 提供上传模板/校准文件并下载生成结果的 HTTP 接口。
type Server struct {
	addr     string
	svc      *calibrate.Service
	ledger   *store.Ledger
	defaults calibrate.Request
	maxBytes int64
	workDir  string
	keepWork bool
	router   *gin.Engine
}

// Config 描述 HTTP Server 的依赖。
type Config struct {
	Addr string
	Svc  *calibrate.Service
	// Defaults 提供表单未给出的字段（asset、MT5 目录、模式）。
	Defaults     calibrate.Request
	MaxUploadMB  int
	WorkDir      string
	KeepWorkDirs bool
}

// NewServer 构建 HTTP Server。
func NewServer(cfg Config) (*Server, error) {
	if cfg.Svc == nil {
		return nil, errors.New("service 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8501"
	}
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 64
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.MaxMultipartMemory = int64(cfg.MaxUploadMB) << 20

	s := &Server{
		addr:     cfg.Addr,
		svc:      cfg.Svc,
		ledger:   cfg.Svc.Ledger(),
		defaults: cfg.Defaults,
		maxBytes: int64(cfg.MaxUploadMB) << 20,
		workDir:  cfg.WorkDir,
		keepWork: cfg.KeepWorkDirs,
		router:   router,
	}
	s.registerRoutes()
	return s, nil
}

// Handler 暴露路由，便于测试。
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	api := s.router.Group("/api")
	api.POST("/calibrate", s.handleCalibrate)
	api.GET("/runs", s.handleRunList)
	api.GET("/runs/:id", s.handleRunDetail)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleCalibrate(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxBytes)
	templateFile, err := c.FormFile("template")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "template 文件必填"})
		return
	}
	calibFile, err := c.FormFile("calibration")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "calibration 文件必填"})
		return
	}

	dir, err := os.MkdirTemp(s.workDir, "calibrate-*")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !s.keepWork {
		defer os.RemoveAll(dir)
	}

	// the template keeps the client's file name, which names the archives,
	// so it lives apart from the fixed-name inputs
	tplDir := filepath.Join(dir, "template")
	if err := os.MkdirAll(tplDir, 0o755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	req := s.defaults
	req.BlockSettings = filepath.Join(tplDir, uploadName(templateFile.Filename, "template."+sqx.DefaultExtension))
	req.CalibrationFile = filepath.Join(dir, "calibration.json")
	req.MappingFile = filepath.Join(dir, "mapping.json")
	req.RangesDir = filepath.Join(dir, "ranges")
	req.OutputDir = filepath.Join(dir, "out")
	if v := strings.TrimSpace(c.PostForm("asset")); v != "" {
		req.Asset = v
	}
	if v := strings.TrimSpace(c.PostForm("indicators_dir")); v != "" {
		req.IndicatorsDir = v
	}
	if v := strings.TrimSpace(c.PostForm("mode")); v != "" {
		req.Mode = v
	}
	req.GenerateMapping = false
	if v := strings.TrimSpace(c.PostForm("generate_mapping")); v != "" {
		gen, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "generate_mapping 非法"})
			return
		}
		req.GenerateMapping = gen
	}

	uploads := map[string]*multipart.FileHeader{
		req.BlockSettings:   templateFile,
		req.CalibrationFile: calibFile,
	}
	if mappingFile, err := c.FormFile("mapping"); err == nil {
		uploads[req.MappingFile] = mappingFile
	}
	for dst, fh := range uploads {
		if err := c.SaveUploadedFile(fh, dst); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}

	res, err := s.svc.Run(c.Request.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		var docErr *sqx.DocumentNotFoundError
		if errors.Is(err, calibrate.ErrMissingInput) || errors.As(err, &docErr) {
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, gin.H{"error": err.Error(), "run_id": runID(res)})
		return
	}
	outputs := res.Report.Outputs()
	if len(outputs) == 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":  res.Report.Err().Error(),
			"run_id": res.RunID,
		})
		return
	}

	files := append([]string{req.MappingFile}, outputs...)
	name := fmt.Sprintf("%s_%s.zip", sqx.TemplateStem(req.BlockSettings), req.Asset)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Header("X-Run-ID", res.RunID)
	if failed := res.Report.Failed(); len(failed) > 0 {
		tfs := make([]string, 0, len(failed))
		for _, o := range failed {
			tfs = append(tfs, o.Timeframe)
		}
		c.Header("X-Failed-Timeframes", strings.Join(tfs, ","))
	}
	c.Status(http.StatusOK)
	c.Header("Content-Type", "application/zip")
	if err := writeBundle(c.Writer, files); err != nil {
		log.Errorf("write bundle for run %s failed: %v", res.RunID, err)
	}
}

func (s *Server) handleRunList(c *gin.Context) {
	if !s.ledger.Enabled() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "运行记录未启用"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := s.ledger.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleRunDetail(c *gin.Context) {
	if !s.ledger.Enabled() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "运行记录未启用"})
		return
	}
	detail, err := s.ledger.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if detail == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": detail.Run, "outcomes": detail.Outcomes})
}

// Start 启动 HTTP 服务，阻塞直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		log.Infof("HTTP listening on %s", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

// writeBundle 将生成的文件打包为 zip（扁平目录）。
func writeBundle(w io.Writer, files []string) error {
	zw := zip.NewWriter(w)
	for _, path := range files {
		if err := addFile(zw, path); err != nil {
			return err
		}
	}
	return zw.Close()
}

func addFile(zw *zip.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w, err := zw.Create(filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}

func uploadName(name, fallback string) string {
	base := filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	switch base {
	case "", ".", "/", "..":
		return fallback
	}
	return base
}

func runID(res *calibrate.Result) string {
	if res == nil {
		return ""
	}
	return res.RunID
}
