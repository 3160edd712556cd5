package handler

import (
	"clipfactory/internal/dto"
	"clipfactory/internal/pipeline"
	"clipfactory/internal/response"
	"clipfactory/log"
	apperrors "clipfactory/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (h Handler) SubmitPipeline(c *gin.Context) {
	var req dto.SubmitPipelineReq
	if err := c.ShouldBindJSON(&req); err != nil {
		log.GetLogger().Error("SubmitPipeline ShouldBindJSON err", zap.Error(err))
		response.ErrorResponse(c, apperrors.Wrap(apperrors.CodeInvalidParams, "参数错误 Invalid parameters", err))
		return
	}
	log.GetLogger().Info("SubmitPipeline received request", zap.String("source_ref", req.SourceRef))

	res, err := h.Service.Submit(c.Request.Context(), req.SourceRef, req.Meta)
	if err != nil {
		response.ErrorResponse(c, err)
		return
	}
	response.Success(c, dto.SubmitPipelineResData{
		JobId:     res.JobID,
		Created:   res.Created,
		Duplicate: res.Duplicate,
	})
}

func (h Handler) GetStatus(c *gin.Context) {
	st, err := h.Service.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.ErrorResponse(c, err)
		return
	}
	response.Success(c, toStatusData(st))
}

func (h Handler) RequestExport(c *gin.Context) {
	var req dto.ExportReq
	if err := c.ShouldBindJSON(&req); err != nil {
		log.GetLogger().Error("RequestExport ShouldBindJSON err", zap.Error(err))
		response.ErrorResponse(c, apperrors.Wrap(apperrors.CodeInvalidParams, "参数错误 Invalid parameters", err))
		return
	}

	rec, err := h.Service.RequestExport(c.Request.Context(), req.RootId, req.ClipId, req.UserId)
	if err != nil {
		response.ErrorResponse(c, err)
		return
	}
	response.Success(c, dto.ExportResData{
		ExportId:        rec.Id,
		Status:          string(rec.Status),
		PlatformVideoId: rec.PlatformVideoID,
	})
}

func toStatusData(st *pipeline.Status) dto.JobStatusResData {
	data := dto.JobStatusResData{
		Id:             st.ID,
		Kind:           st.Kind,
		State:          st.State,
		Progress:       st.Progress,
		Error:          st.Error,
		PendingExports: st.PendingExports,
	}
	for _, s := range st.Stages {
		data.Stages = append(data.Stages, dto.StageStatus{
			Stage:     s.Stage.String(),
			Status:    string(s.Status),
			Progress:  s.Progress,
			Attempt:   s.Attempt,
			LastError: s.LastError,
		})
	}
	return data
}
