package api

import (
	"github.com/ColasDroin/lbae-sub000/internal/service"
)

// DatasetInfo contains information about a dataset for the API response.
type DatasetInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Slices []int  `json:"slices"`
}

// DatasetRegistry holds spectrum services for all configured datasets.
type DatasetRegistry struct {
	services       map[string]*service.SpectrumService
	defaultDataset string
	datasetOrder   []string
	title          string
}

// NewDatasetRegistry creates a new dataset registry.
func NewDatasetRegistry(defaultDataset string, order []string, title string) *DatasetRegistry {
	return &DatasetRegistry{
		services:       make(map[string]*service.SpectrumService),
		defaultDataset: defaultDataset,
		datasetOrder:   order,
		title:          title,
	}
}

// Register adds a spectrum service for a dataset.
func (r *DatasetRegistry) Register(datasetID string, svc *service.SpectrumService) {
	r.services[datasetID] = svc
}

// Get returns the spectrum service for a dataset, or nil if not found.
func (r *DatasetRegistry) Get(datasetID string) *service.SpectrumService {
	return r.services[datasetID]
}

// Default returns the default dataset's spectrum service.
func (r *DatasetRegistry) Default() *service.SpectrumService {
	return r.services[r.defaultDataset]
}

// DefaultDatasetID returns the default dataset ID.
func (r *DatasetRegistry) DefaultDatasetID() string {
	return r.defaultDataset
}

// DatasetIDs returns all dataset IDs in config order.
func (r *DatasetRegistry) DatasetIDs() []string {
	return r.datasetOrder
}

// Title returns the configured site title.
func (r *DatasetRegistry) Title() string {
	if r.title != "" {
		return r.title
	}
	return "Lipid Brain Atlas Explorer"
}

// Datasets returns dataset info for all registered datasets.
func (r *DatasetRegistry) Datasets() []DatasetInfo {
	infos := make([]DatasetInfo, 0, len(r.datasetOrder))
	for _, id := range r.datasetOrder {
		// Use the config ID as the display name (user-defined in server.yaml)
		info := DatasetInfo{ID: id, Name: id}
		if svc := r.services[id]; svc != nil {
			info.Slices = svc.Slices()
		}
		infos = append(infos, info)
	}
	return infos
}
