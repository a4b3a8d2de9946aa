package handler

import (
	"errors"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ns2250225/live-qrcode/internal/api/middleware"
	"github.com/ns2250225/live-qrcode/internal/dto"
	"github.com/ns2250225/live-qrcode/internal/service"
	"github.com/ns2250225/live-qrcode/pkg/response"
)

// imageField 上传图片的表单字段名
const imageField = "image_file"

// CodeHandler 活码 HTTP 处理器
type CodeHandler struct {
	codeSvc   service.CodeService
	maxUpload int64
}

// NewCodeHandler 创建 CodeHandler
func NewCodeHandler(codeSvc service.CodeService, maxUpload int64) *CodeHandler {
	return &CodeHandler{codeSvc: codeSvc, maxUpload: maxUpload}
}

// Create 创建活码，扣除积分
// POST /api/v1/codes
func (h *CodeHandler) Create(c *gin.Context) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	var req dto.CreateCodeRequest
	if !h.bind(c, &req) {
		return
	}
	upload, file, ok := h.openUpload(c)
	if !ok {
		return
	}
	if file != nil {
		defer file.Close()
	}

	result, err := h.codeSvc.Create(c.Request.Context(), userID, &req, upload)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Created(c, result)
}

// List 我的活码
// GET /api/v1/codes
func (h *CodeHandler) List(c *gin.Context) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	list, err := h.codeSvc.ListMine(c.Request.Context(), userID)
	if err != nil {
		response.InternalError(c)
		return
	}

	response.OK(c, list)
}

// Get 活码详情，仅所有者可见
// GET /api/v1/codes/:id
func (h *CodeHandler) Get(c *gin.Context) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	result, err := h.codeSvc.Get(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}

	response.OK(c, result)
}

// Update 修改目标或启停状态，短码不变
// PUT /api/v1/codes/:id
func (h *CodeHandler) Update(c *gin.Context) {
	userID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	var req dto.UpdateCodeRequest
	if !h.bind(c, &req) {
		return
	}
	upload, file, ok := h.openUpload(c)
	if !ok {
		return
	}
	if file != nil {
		defer file.Close()
	}

	result, err := h.codeSvc.Update(c.Request.Context(), userID, c.Param("id"), &req, upload)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.OK(c, result)
}

func (h *CodeHandler) bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBind(req); err != nil {
		if middleware.IsBodyTooLarge(err) {
			middleware.AbortBodyTooLarge(c)
			return false
		}
		response.BadRequest(c, response.CodeBadRequest, "参数校验失败")
		return false
	}
	return true
}

// openUpload 读取可选的图片字段，未上传时返回 nil
func (h *CodeHandler) openUpload(c *gin.Context) (*dto.Upload, multipart.File, bool) {
	fh, err := c.FormFile(imageField)
	if err != nil {
		if middleware.IsBodyTooLarge(err) {
			middleware.AbortBodyTooLarge(c)
			return nil, nil, false
		}
		return nil, nil, true
	}
	if h.maxUpload > 0 && fh.Size > h.maxUpload {
		middleware.AbortBodyTooLarge(c)
		return nil, nil, false
	}

	file, err := fh.Open()
	if err != nil {
		response.BadRequest(c, response.CodeBadRequest, "无法读取上传文件")
		return nil, nil, false
	}

	return &dto.Upload{
		Name:        fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Body:        file,
	}, file, true
}

func (h *CodeHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInsufficientPoints):
		response.Forbidden(c, response.CodeInsufficientPts, "积分不足")
	case errors.Is(err, service.ErrCodeNotFound):
		response.NotFound(c, response.CodeCodeNotFound, "活码不存在")
	case errors.Is(err, service.ErrUserNotFound):
		response.NotFound(c, response.CodeUserNotFound, "用户不存在")
	case errors.Is(err, service.ErrLinkRequired),
		errors.Is(err, service.ErrImageRequired),
		errors.Is(err, service.ErrUnsupportedImage),
		errors.Is(err, service.ErrInvalidCodeType):
		response.BadRequest(c, response.CodeInvalidTarget, err.Error())
	case errors.Is(err, service.ErrUploadFailed):
		response.Error(c, http.StatusInternalServerError, response.CodeUploadFailed, "文件上传失败")
	default:
		response.InternalError(c)
	}
}
