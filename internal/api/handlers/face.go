package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/faceid/internal/identity"
	"github.com/your-org/faceid/internal/imaging"
	"github.com/your-org/faceid/pkg/dto"
)

// AnalysisHandler serves the stateless face endpoints: detection,
// embedding preview and pairwise comparison.
type AnalysisHandler struct {
	detector  identity.FaceDetector
	previewer *identity.Previewer
	verifier  *identity.Verifier
}

func NewAnalysisHandler(detector identity.FaceDetector, previewer *identity.Previewer, verifier *identity.Verifier) *AnalysisHandler {
	return &AnalysisHandler{detector: detector, previewer: previewer, verifier: verifier}
}

func (h *AnalysisHandler) Detect(c *gin.Context) {
	images, err := readImages(c, "image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	img, _, err := imaging.Decode(images[0])
	if err != nil {
		respondError(c, fmt.Errorf("%w: %v", identity.ErrInvalidImage, err))
		return
	}

	report, err := h.detector.Detect(c.Request.Context(), img)
	if err != nil {
		respondError(c, err)
		return
	}

	faces := make([]dto.DetectedFace, 0, report.Count())
	for _, f := range report.Faces {
		faces = append(faces, dto.DetectedFace{Box: f.Box, Confidence: f.Confidence, Quality: f.Score})
	}
	c.JSON(http.StatusOK, dto.DetectResponse{Faces: faces, Count: len(faces)})
}

// Embeddings returns an embedding preview. The vector may be synthetic
// when the model is unavailable and degraded mode is on.
func (h *AnalysisHandler) Embeddings(c *gin.Context) {
	images, err := readImages(c, "image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, err := h.previewer.Preview(c.Request.Context(), images[0])
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.EmbeddingPreviewResponse{
		Embedding: p.Values,
		Dim:       len(p.Values),
		Synthetic: p.Synthetic,
		FaceCount: p.FaceCount,
		Quality:   p.Quality,
	})
}

func (h *AnalysisHandler) Compare(c *gin.Context) {
	images, err := readImages(c, "image1", "image2")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.verifier.Compare(c.Request.Context(), images[0], images[1])
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.CompareResponse{
		Distance:          res.Distance,
		Similarity:        res.Similarity,
		Same:              res.Same,
		DimensionMismatch: res.DimensionMismatch,
		Compared:          res.Compared,
	})
}
