package models

// Category names a storage subdirectory under the data root
type Category string

const (
	CategoryPages    Category = "pages"    // Text of same-site pages
	CategoryExternal Category = "external" // Text of cross-site pages
	CategoryPDFs     Category = "pdfs"
	CategoryExcel    Category = "excel"
	CategoryImages   Category = "images"
	CategoryOther    Category = "other" // doc(x), ppt(x), txt, csv
)

// AllCategories lists every subdirectory the storage layout creates
var AllCategories = []Category{
	CategoryPages,
	CategoryPDFs,
	CategoryExcel,
	CategoryImages,
	CategoryOther,
	CategoryExternal,
}

// String implements fmt.Stringer for logging
func (c Category) String() string {
	if c == "" {
		return "unset"
	}
	return string(c)
}

// IsValid returns true if the category is one of the known storage directories
func (c Category) IsValid() bool {
	switch c {
	case CategoryPages, CategoryExternal, CategoryPDFs, CategoryExcel, CategoryImages, CategoryOther:
		return true
	}
	return false
}

// IsPage reports whether the category stores extracted page text rather than raw downloads
func (c Category) IsPage() bool {
	return c == CategoryPages || c == CategoryExternal
}

// DefaultExtension is used when a downloaded URL carries no usable extension
func (c Category) DefaultExtension() string {
	switch c {
	case CategoryPages, CategoryExternal:
		return ".txt"
	case CategoryPDFs:
		return ".pdf"
	case CategoryExcel:
		return ".xlsx"
	case CategoryImages:
		return ".jpg"
	default:
		return ".bin"
	}
}
