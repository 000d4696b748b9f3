package configmanagement

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"voice-order-eval-platform/backend/internal/datastore"
)

// CreateProductRequest is the payload for adding a catalog product.
type CreateProductRequest struct {
	ID                       string `json:"product_id" binding:"required"`
	Title                    string `json:"title" binding:"required"`
	UnitsRelation            string `json:"units_relation"`
	MainUnitDescription      string `json:"main_unit_description"`
	SecondaryUnitDescription string `json:"secondary_unit_description"`
}

// UpdateProductRequest updates a product. Nil fields are left unchanged.
type UpdateProductRequest struct {
	Title                    *string `json:"title"`
	UnitsRelation            *string `json:"units_relation"`
	MainUnitDescription      *string `json:"main_unit_description"`
	SecondaryUnitDescription *string `json:"secondary_unit_description"`
}

// ListProductsHandler returns the full catalog.
func ListProductsHandler(c *gin.Context) {
	products, err := datastore.ListProducts()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list products: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products, "total": len(products)})
}

// GetProductHandler returns one product by catalog id.
func GetProductHandler(c *gin.Context) {
	product, err := datastore.GetProduct(c.Param("id"))
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get product: " + err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"product": product})
}

// CreateProductHandler adds a product. The id is the merchant's catalog code
// and must be unique.
func CreateProductHandler(c *gin.Context) {
	var req CreateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	if _, err := datastore.GetProduct(req.ID); err == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Product with ID '%s' already exists", req.ID)})
		return
	} else if !errors.Is(err, datastore.ErrNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check product: " + err.Error()})
		return
	}

	product := &datastore.Product{
		ID:                       req.ID,
		Title:                    req.Title,
		UnitsRelation:            nullable(req.UnitsRelation),
		MainUnitDescription:      nullable(req.MainUnitDescription),
		SecondaryUnitDescription: nullable(req.SecondaryUnitDescription),
	}
	if _, err := datastore.CreateProduct(product); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create product: " + err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"product": product})
}

// UpdateProductHandler applies a partial update to a product.
func UpdateProductHandler(c *gin.Context) {
	var req UpdateProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	product, err := datastore.GetProduct(c.Param("id"))
	if err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get product: " + err.Error()})
		}
		return
	}

	if req.Title != nil && *req.Title != "" {
		product.Title = *req.Title
	}
	if req.UnitsRelation != nil {
		product.UnitsRelation = nullable(*req.UnitsRelation)
	}
	if req.MainUnitDescription != nil {
		product.MainUnitDescription = nullable(*req.MainUnitDescription)
	}
	if req.SecondaryUnitDescription != nil {
		product.SecondaryUnitDescription = nullable(*req.SecondaryUnitDescription)
	}

	if err := datastore.UpdateProduct(product); err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update product: " + err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"product": product})
}

// DeleteProductHandler removes a product from the catalog.
func DeleteProductHandler(c *gin.Context) {
	id := c.Param("id")
	if err := datastore.DeleteProduct(id); err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Product not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete product: " + err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Product '%s' deleted successfully", id)})
}

// ImportProductsHandler bulk-loads the catalog from an uploaded CSV file.
// Columns are positional: id, title, units_relation, main_unit_description,
// secondary_unit_description. A header row is skipped when the first cell
// looks like a column name. Existing ids are overwritten.
func ImportProductsHandler(c *gin.Context) {
	file, _, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	var products []datastore.Product
	skipped := 0
	first := true
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to parse CSV: " + err.Error()})
			return
		}
		if first {
			first = false
			switch strings.ToLower(strings.TrimSpace(record[0])) {
			case "id", "product_id":
				continue
			}
		}
		if len(record) < 5 {
			skipped++
			continue
		}
		id := strings.TrimSpace(record[0])
		title := strings.TrimSpace(record[1])
		if id == "" || title == "" {
			skipped++
			continue
		}
		products = append(products, datastore.Product{
			ID:                       id,
			Title:                    title,
			UnitsRelation:            nullable(strings.TrimSpace(record[2])),
			MainUnitDescription:      nullable(strings.TrimSpace(record[3])),
			SecondaryUnitDescription: nullable(strings.TrimSpace(record[4])),
		})
	}

	if len(products) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "CSV contains no valid product rows"})
		return
	}

	imported, err := datastore.UpsertProducts(products)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to import products: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":  fmt.Sprintf("Imported %d products", imported),
		"imported": imported,
		"skipped":  skipped,
	})
}
