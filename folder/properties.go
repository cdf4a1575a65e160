// Package folder implements folder storage: one file per tile, grouped into TileGroup{N}
// directories of 256 tiles, described by an ImageProperties.xml file.
package folder

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/eak1mov/go-deepview/netconn"
)

var ErrInvalidProperties = errors.New("deepview: invalid image properties")

// PropertiesFile is the metadata file name inside the image folder.
const PropertiesFile = "ImageProperties.xml"

// Properties is the content of ImageProperties.xml.
type Properties struct {
	Width     int
	Height    int
	TileSize  int
	NumTiles  int
	NumImages int
	Version   string
}

// ParseProperties reads properties from the root element of ImageProperties.xml.
func ParseProperties(root *netconn.Element) (Properties, error) {
	p := Properties{NumImages: 1, TileSize: 256}
	var err error
	required := []struct {
		name string
		dst  *int
	}{
		{"WIDTH", &p.Width},
		{"HEIGHT", &p.Height},
		{"NUMTILES", &p.NumTiles},
	}
	for _, attr := range required {
		if *attr.dst, err = intAttr(root, attr.name); err != nil {
			return Properties{}, err
		}
	}
	if _, ok := root.Attr("TILESIZE"); ok {
		if p.TileSize, err = intAttr(root, "TILESIZE"); err != nil {
			return Properties{}, err
		}
	}
	if _, ok := root.Attr("NUMIMAGES"); ok {
		if p.NumImages, err = intAttr(root, "NUMIMAGES"); err != nil {
			return Properties{}, err
		}
	}
	p.Version, _ = root.Attr("VERSION")

	if p.Width <= 0 || p.Height <= 0 || p.TileSize <= 0 || p.NumTiles <= 0 {
		return Properties{}, fmt.Errorf("%w: %+v", ErrInvalidProperties, p)
	}
	return p, nil
}

// ReadProperties parses an ImageProperties.xml document.
func ReadProperties(r io.Reader) (Properties, error) {
	root, err := netconn.ParseXML(r)
	if err != nil {
		return Properties{}, fmt.Errorf("%w: %w", ErrInvalidProperties, err)
	}
	return ParseProperties(root)
}

func intAttr(e *netconn.Element, name string) (int, error) {
	s, ok := e.Attr(name)
	if !ok {
		return 0, fmt.Errorf("%w: missing %v", ErrInvalidProperties, name)
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %v=%q", ErrInvalidProperties, name, s)
	}
	return v, nil
}

type propertiesXML struct {
	XMLName   xml.Name `xml:"IMAGE_PROPERTIES"`
	Width     int      `xml:"WIDTH,attr"`
	Height    int      `xml:"HEIGHT,attr"`
	NumTiles  int      `xml:"NUMTILES,attr"`
	NumImages int      `xml:"NUMIMAGES,attr"`
	Version   string   `xml:"VERSION,attr"`
	TileSize  int      `xml:"TILESIZE,attr"`
}

// EncodeProperties writes p as ImageProperties.xml.
func EncodeProperties(w io.Writer, p Properties) error {
	version := p.Version
	if version == "" {
		version = "1.8"
	}
	data, err := xml.Marshal(propertiesXML{
		Width:     p.Width,
		Height:    p.Height,
		NumTiles:  p.NumTiles,
		NumImages: max(1, p.NumImages),
		Version:   version,
		TileSize:  p.TileSize,
	})
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
