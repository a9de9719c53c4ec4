package assets

import (
	"path/filepath"
	"strings"

	"github.com/spaghettifunk/anima-stream/engine/vfs"
)

// AssetID is a dense handle handed out by the AssetManager in registration
// order.
type AssetID uint32

const InvalidAssetID AssetID = ^AssetID(0)

func (id AssetID) Valid() bool {
	return id != InvalidAssetID
}

/** @brief Tells the instantiator what to substitute while an asset is absent. */
type AssetClass int

const (
	/** @brief Substitute with zero. */
	ClassZeroable AssetClass = iota
	/** @brief Substitute with the missing color. */
	ClassColor
	/** @brief Substitute with a flat normal. */
	ClassNormal
	/** @brief Substitute with metallic 0, roughness 1. */
	ClassMetallicRoughness
	/** @brief Meshlet blob; absent meshes draw nothing. */
	ClassMesh
)

func (c AssetClass) String() string {
	switch c {
	case ClassZeroable:
		return "zeroable"
	case ClassColor:
		return "color"
	case ClassNormal:
		return "normal"
	case ClassMetallicRoughness:
		return "metallic-roughness"
	case ClassMesh:
		return "mesh"
	default:
		return "unknown"
	}
}

// IsImage reports whether assets of the class instantiate into images.
func (c AssetClass) IsImage() bool {
	return c != ClassMesh
}

// CostUpdater receives the real GPU cost of an asset once it is known. It is
// safe to call from any goroutine.
type CostUpdater interface {
	UpdateCost(id AssetID, cost uint64)
}

// TaskGroup runs tasks on background workers.
type TaskGroup interface {
	Enqueue(task func())
}

/**
 * @brief The contract between the AssetManager and whatever turns files into
 * GPU resources.
 */
type Instantiator interface {
	SetIDBounds(bound uint32)
	SetAssetClass(id AssetID, class AssetClass)
	// EstimateCost is an upper bound of the cost reported after instantiation.
	EstimateCost(id AssetID, file vfs.File) uint64
	// Instantiate must eventually call costs.UpdateCost with the real cost.
	// With a nil group the work runs on the calling goroutine.
	Instantiate(costs CostUpdater, group TaskGroup, id AssetID, file vfs.File)
	Release(id AssetID)
	LatchHandles()
}

// ClassFromPath guesses the class of a file from its extension. Unknown
// extensions return false.
func ClassFromPath(path string) (AssetClass, bool) {
	path = strings.TrimSuffix(path, vfs.LZ4Suffix)
	name := strings.ToLower(filepath.Base(path))
	switch {
	case strings.HasSuffix(name, ".msh"), strings.HasSuffix(name, ".meshlet"):
		return ClassMesh, true
	case strings.Contains(name, "_normal."), strings.Contains(name, "_n."):
		return ClassNormal, true
	case strings.Contains(name, "_mr."), strings.Contains(name, "_pbr."):
		return ClassMetallicRoughness, true
	}
	switch filepath.Ext(name) {
	case ".atx", ".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff", ".webp":
		return ClassColor, true
	default:
		return ClassZeroable, false
	}
}
