package services

import (
	"context"
	"time"

	"github.com/lexikon-ai/kbengine/internal/cluster"
	"github.com/lexikon-ai/kbengine/internal/config"
	"github.com/lexikon-ai/kbengine/internal/core/domain"
	"github.com/lexikon-ai/kbengine/internal/core/ports/driven"
	"github.com/lexikon-ai/kbengine/internal/logger"
)

// Analyzer runs batch cluster analysis over document centroids. The
// assignments it produces are advisory: they sweeten neighbour scores
// and never gate retrieval.
type Analyzer struct {
	store driven.DocumentStore
	rt    *config.Runtime
}

// NewAnalyzer wires the cluster analyzer.
func NewAnalyzer(store driven.DocumentStore, rt *config.Runtime) *Analyzer {
	return &Analyzer{store: store, rt: rt}
}

// Recluster projects all indexed centroids to a lower dimensionality,
// density-clusters them and replaces the stored assignment map. Returns
// the number of documents assigned to a real cluster (noise excluded).
func (a *Analyzer) Recluster(ctx context.Context) (int, error) {
	cfg := a.rt.Current()

	docs, err := a.store.ListIndexed(ctx)
	if err != nil {
		return 0, err
	}

	ids := make([]string, 0, len(docs))
	centroids := make([][]float32, 0, len(docs))
	for _, d := range docs {
		if len(d.Centroid) == 0 {
			continue
		}
		ids = append(ids, d.ID)
		centroids = append(centroids, d.Centroid)
	}
	if len(ids) == 0 {
		return 0, a.store.SaveClusterAssignments(ctx, nil)
	}

	projected := cluster.Project(centroids, cfg.Cluster.ProjectionDims)
	labels := cluster.DBSCAN(projected, cfg.Cluster.Eps, cfg.Cluster.MinPts)

	now := time.Now().UTC()
	assignments := make([]domain.ClusterAssignment, len(ids))
	clustered := 0
	for i, id := range ids {
		assignments[i] = domain.ClusterAssignment{
			DocumentID: id,
			ClusterID:  labels[i],
			UpdatedAt:  now,
		}
		if labels[i] != cluster.Noise {
			clustered++
		}
	}

	if err := a.store.SaveClusterAssignments(ctx, assignments); err != nil {
		return 0, err
	}
	logger.Info("Reclustered %d documents, %d in clusters", len(ids), clustered)
	return clustered, nil
}
