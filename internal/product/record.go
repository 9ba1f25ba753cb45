package product

// Record holds normalized product metadata for a scanned barcode. All fields
// are plain strings; anything absent from the upstream payload is an empty
// string so downstream classification never has to nil-check.
type Record struct {
	Barcode       string
	Name          string
	GenericName   string
	Categories    string
	Packaging     string
	PackagingTags []string
	Ingredients   string
	ImageURL      string
}

// offEnvelope mirrors the Open Food Facts v2 product response.
type offEnvelope struct {
	Code          string     `json:"code"`
	Status        int        `json:"status"`
	StatusVerbose string     `json:"status_verbose"`
	Product       offProduct `json:"product"`
}

type offProduct struct {
	ProductName    string   `json:"product_name"`
	GenericName    string   `json:"generic_name"`
	Categories     string   `json:"categories"`
	Packaging      string   `json:"packaging"`
	PackagingTags  []string `json:"packaging_tags"`
	IngredientsTxt string   `json:"ingredients_text"`
	ImageFrontURL  string   `json:"image_front_url"`
	ImageURL       string   `json:"image_url"`
}

// newRecord normalizes an upstream payload into a Record. The front image is
// preferred over the generic one for display.
func newRecord(barcode string, p offProduct) *Record {
	imageURL := p.ImageFrontURL
	if imageURL == "" {
		imageURL = p.ImageURL
	}
	tags := p.PackagingTags
	if tags == nil {
		tags = []string{}
	}
	return &Record{
		Barcode:       barcode,
		Name:          p.ProductName,
		GenericName:   p.GenericName,
		Categories:    p.Categories,
		Packaging:     p.Packaging,
		PackagingTags: tags,
		Ingredients:   p.IngredientsTxt,
		ImageURL:      imageURL,
	}
}
